package venv

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
			"python": schema.NewPropertySchema(
				schema.NewStringSchema(schema.IntPointer(1), schema.IntPointer(255), regexp.MustCompile(`^[a-zA-Z0-9./_-]+$`)),
				schema.NewDisplayValue(
					schema.PointerTo("Python"),
					schema.PointerTo("The interpreter used to create virtual environments."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo(util.JSONEncode("python3")),
				nil,
			),
			"timeouts": schema.NewPropertySchema(
				schema.NewRefSchema("Timeouts", nil),
				schema.NewDisplayValue(
					schema.PointerTo("Timeouts"),
					schema.PointerTo("Timeouts for the invoked tools."),
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
					schema.PointerTo("Time limit for a pip dry-run."),
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
					schema.PointerTo("Time limit for creating an environment and installing packages."),
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
