package app

import (
	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/domain/concepts"
	httpH "github.com/yungbote/clinical-mdr/internal/http/handlers"
	"github.com/yungbote/clinical-mdr/internal/observability"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
	"github.com/yungbote/clinical-mdr/internal/services"
)

type Services struct {
	UnitDefinitions    services.LibraryItemService[concepts.UnitDefinition]
	CodelistAttributes services.LibraryItemService[concepts.CodelistAttributes]
}

func wireServices(log *logger.Logger, cfg Config, store aggregates.ChainStore, clients Clients, metrics *observability.Metrics) Services {
	overrides := append([]domainagg.GateOverride{concepts.CDISCCodelistOverride()}, cfg.GateOverrides...)
	gate := domainagg.NewLibraryGate(overrides...)
	deps := aggregates.BaseDeps{
		Store:       store,
		Log:         log,
		Hooks:       aggregates.NewMetricsHooks(metrics),
		Locker:      clients.Locker,
		LockTimeout: cfg.LockTimeout,
	}

	units := aggregates.NewVersionRepository[concepts.UnitDefinition](deps, concepts.NewUnitDefinitionAdapter(), gate, nil)
	codelists := aggregates.NewVersionRepository[concepts.CodelistAttributes](deps, concepts.NewCodelistAttributesAdapter(), gate, nil)

	return Services{
		UnitDefinitions:    services.NewLibraryItemService[concepts.UnitDefinition](log, units, clients.Publisher, metrics),
		CodelistAttributes: services.NewLibraryItemService[concepts.CodelistAttributes](log, codelists, clients.Publisher, metrics),
	}
}

func (s Services) familyRoutes() []httpH.FamilyRoutes {
	return []httpH.FamilyRoutes{
		httpH.NewLibraryItemHandler(s.UnitDefinitions),
		httpH.NewLibraryItemHandler(s.CodelistAttributes),
	}
}
