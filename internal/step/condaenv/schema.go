package condaenv

import (
	"go.flow.arcalot.io/pluginsdk/schema"
	"go.flow.arcalot.io/stepenv/internal/requirements"
	"go.flow.arcalot.io/stepenv/internal/util"
)

var configSchema = schema.NewTypedScopeSchema[Config](
	schema.NewStructMappedObjectSchema[Config](
		"CondaEnvDecorator",
		map[string]*schema.PropertySchema{
			"requirements": schema.NewPropertySchema(
				schema.NewRefSchema("RequirementSet", nil),
				schema.NewDisplayValue(
					schema.PointerTo("Requirements"),
					schema.PointerTo("Package requirements of the step."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				nil,
				nil,
			),
			"base_requirements": schema.NewPropertySchema(
				schema.NewRefSchema("RequirementSet", nil),
				schema.NewDisplayValue(
					schema.PointerTo("Base requirements"),
					schema.PointerTo("Flow-level package requirements that every step inherits. The step requirements augment them and prevail on conflict."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				nil,
				nil,
			),
			"fetch_at_exec": schema.NewPropertySchema(
				schema.NewBoolSchema(),
				schema.NewDisplayValue(
					schema.PointerTo("Fetch at execution"),
					schema.PointerTo("Recover the environment from the metadata of the parent task at execution time instead of deriving it from the declared requirements."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo("false"),
				nil,
			),
			"remote_decorators": schema.NewPropertySchema(
				schema.NewListSchema(
					schema.NewStringSchema(schema.IntPointer(1), nil, nil),
					nil,
					nil,
				),
				schema.NewDisplayValue(
					schema.PointerTo("Remote decorators"),
					schema.PointerTo("Decorator names that indicate remote execution of the step."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo(util.JSONEncode([]string{"batch", "kubernetes"})),
				nil,
			),
		},
	),
	requirements.ObjectSchema(),
)
