package conda

import (
	"regexp"
	"time"

	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/util"
)

var configSchema = schema.NewTypedScopeSchema[*Config](
	schema.NewStructMappedObjectSchema[*Config](
		"Config",
		map[string]*schema.PropertySchema{
			"executable": schema.NewPropertySchema(
				schema.NewStringSchema(schema.IntPointer(1), schema.IntPointer(255), regexp.MustCompile(`^[a-zA-Z0-9./_-]+$`)),
				schema.NewDisplayValue(
					schema.PointerTo("Executable"),
					schema.PointerTo("The conda-compatible binary to drive, e.g. micromamba, mamba or conda."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo(util.JSONEncode("micromamba")),
				nil,
			),
			"channels": schema.NewPropertySchema(
				schema.NewListSchema(
					schema.NewStringSchema(schema.IntPointer(1), nil, nil),
					nil,
					nil,
				),
				schema.NewDisplayValue(
					schema.PointerTo("Channels"),
					schema.PointerTo("Default channels to search, in priority order."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo(util.JSONEncode([]string{"conda-forge"})),
				nil,
			),
			"timeouts": schema.NewPropertySchema(
				schema.NewRefSchema("Timeouts", nil),
				schema.NewDisplayValue(
					schema.PointerTo("Timeouts"),
					schema.PointerTo("Timeouts for the invoked tool."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				nil,
				nil,
			),
		},
	),
	schema.NewStructMappedObjectSchema[Timeouts](
		"Timeouts",
		map[string]*schema.PropertySchema{
			"resolve": schema.NewPropertySchema(
				schema.NewIntSchema(schema.PointerTo(int64(time.Second)), nil, schema.UnitDurationNanoseconds),
				schema.NewDisplayValue(
					schema.PointerTo("Resolve"),
					schema.PointerTo("Time limit for a dry-run solve."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo(util.JSONEncode("5m")),
				nil,
			),
			"install": schema.NewPropertySchema(
				schema.NewIntSchema(schema.PointerTo(int64(time.Second)), nil, schema.UnitDurationNanoseconds),
				schema.NewDisplayValue(
					schema.PointerTo("Install"),
					schema.PointerTo("Time limit for creating an environment."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo(util.JSONEncode("15m")),
				nil,
			),
		},
	),
)
