package requirements

import (
	"fmt"
	"regexp"

	"go.flow.arcalot.io/pluginsdk/schema"
	"gopkg.in/yaml.v3"
)

var packageNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// GetSchema returns the schema of a requirement set as declared in requirement files.
func GetSchema() *schema.TypedScopeSchema[*Set] {
	return schema.NewTypedScopeSchema[*Set](
		ObjectSchema(),
	)
}

// ObjectSchema returns the object schema of a requirement set for embedding into larger scopes.
func ObjectSchema() *schema.ObjectSchema {
	return schema.NewStructMappedObjectSchema[*Set](
		"RequirementSet",
		map[string]*schema.PropertySchema{
			"python": schema.NewPropertySchema(
				schema.NewStringSchema(nil, nil, nil),
				schema.NewDisplayValue(
					schema.PointerTo("Python version"),
					schema.PointerTo("Interpreter version to provision, e.g. 3.11. Defaults to the resolver default."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				nil,
				nil,
			),
			"packages": schema.NewPropertySchema(
				schema.NewMapSchema(
					schema.NewStringSchema(schema.IntPointer(1), nil, packageNameRe),
					schema.NewStringSchema(nil, nil, nil),
					nil,
					nil,
				),
				schema.NewDisplayValue(
					schema.PointerTo("Packages"),
					schema.PointerTo("Package names mapped to version constraints, e.g. \"<2.0,>=1.5\"."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo("{}"),
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
					schema.PointerTo("Additional channels to search, in priority order."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				nil,
				nil,
			),
			"pip_packages": schema.NewPropertySchema(
				schema.NewMapSchema(
					schema.NewStringSchema(schema.IntPointer(1), nil, packageNameRe),
					schema.NewStringSchema(nil, nil, nil),
					nil,
					nil,
				),
				schema.NewDisplayValue(
					schema.PointerTo("Pip packages"),
					schema.PointerTo("Pip package names mapped to version constraints."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo("{}"),
				nil,
			),
			"extra_indexes": schema.NewPropertySchema(
				schema.NewListSchema(
					schema.NewStringSchema(schema.IntPointer(1), nil, nil),
					nil,
					nil,
				),
				schema.NewDisplayValue(
					schema.PointerTo("Extra indexes"),
					schema.PointerTo("Additional package indexes to search for pip packages."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				nil,
				nil,
			),
			"disabled": schema.NewPropertySchema(
				schema.NewBoolSchema(),
				schema.NewDisplayValue(
					schema.PointerTo("Disabled"),
					schema.PointerTo("Use the external environment instead of provisioning one."),
					nil,
				),
				false,
				nil,
				nil,
				nil,
				schema.PointerTo("false"),
				nil,
			),
		},
	)
}

// Load unserializes a requirement set from YAML file contents.
func Load(contents []byte) (*Set, error) {
	var data any
	if err := yaml.Unmarshal(contents, &data); err != nil {
		return nil, fmt.Errorf("failed to parse requirement file (%w)", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return GetSchema().UnserializeType(data)
}
