package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rpattn/hierflat/internal/domain"
)

// Option property names, as accepted by the HTTP form, CLI flags and the
// flatten section of config.yaml.
const (
	PropertyParentField        = "parentField"
	PropertyChildField         = "childField"
	PropertyParentChildMapping = "parentChildMapping"
	PropertyLevelField         = "levelField"
	PropertyTopField           = "topField"
	PropertyBottomField        = "bottomField"
	PropertyTrueValue          = "trueValue"
	PropertyFalseValue         = "falseValue"
	PropertyMaxDepth           = "maxDepth"
)

var optionsValidate *validator.Validate

func init() {
	optionsValidate = validator.New()
	optionsValidate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// FlattenOptions is the raw, user supplied flatten configuration. Every
// value is a string so that all problems can be reported together.
type FlattenOptions struct {
	ParentField        string `json:"parentField" mapstructure:"parent_field" validate:"required"`
	ChildField         string `json:"childField" mapstructure:"child_field" validate:"required,nefield=ParentField"`
	ParentChildMapping string `json:"parentChildMapping" mapstructure:"parent_child_mapping"`
	LevelField         string `json:"levelField" mapstructure:"level_field"`
	TopField           string `json:"topField" mapstructure:"top_field"`
	BottomField        string `json:"bottomField" mapstructure:"bottom_field"`
	TrueValue          string `json:"trueValue" mapstructure:"true_value"`
	FalseValue         string `json:"falseValue" mapstructure:"false_value"`
	MaxDepth           string `json:"maxDepth" mapstructure:"max_depth"`
}

// Failure describes one invalid option.
type Failure struct {
	Property   string `json:"property"`
	Message    string `json:"message"`
	Correction string `json:"correction"`
}

// ValidationError collects every failure found while parsing options.
type ValidationError struct {
	Failures []Failure `json:"failures"`
}

func (e *ValidationError) Error() string {
	messages := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		messages[i] = fmt.Sprintf("%s: %s", failure.Property, failure.Message)
	}
	return "invalid flatten options: " + strings.Join(messages, "; ")
}

func (e *ValidationError) add(property, message, correction string) {
	e.Failures = append(e.Failures, Failure{Property: property, Message: message, Correction: correction})
}

// Has reports whether a failure was recorded for property.
func (e *ValidationError) Has(property string) bool {
	for _, failure := range e.Failures {
		if failure.Property == property {
			return true
		}
	}
	return false
}

func (e *ValidationError) orNil() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}

// IsValidationError reports whether err carries option failures.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func (o FlattenOptions) trimmed() FlattenOptions {
	return FlattenOptions{
		ParentField:        strings.TrimSpace(o.ParentField),
		ChildField:         strings.TrimSpace(o.ChildField),
		ParentChildMapping: strings.TrimSpace(o.ParentChildMapping),
		LevelField:         strings.TrimSpace(o.LevelField),
		TopField:           strings.TrimSpace(o.TopField),
		BottomField:        strings.TrimSpace(o.BottomField),
		TrueValue:          o.TrueValue,
		FalseValue:         o.FalseValue,
		MaxDepth:           strings.TrimSpace(o.MaxDepth),
	}
}

// Parse validates the options and produces the engine configuration with
// defaults applied. All failures are returned at once as a *ValidationError.
func (o FlattenOptions) Parse() (domain.FlattenConfig, error) {
	opts := o.trimmed()
	failures := &ValidationError{}

	if err := optionsValidate.Struct(opts); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return domain.FlattenConfig{}, fmt.Errorf("validate flatten options: %w", err)
		}
		for _, fieldErr := range fieldErrs {
			switch fieldErr.Tag() {
			case "required":
				failures.add(fieldErr.Field(), "value is required", fmt.Sprintf("Provide a %s.", fieldErr.Field()))
			case "nefield":
				failures.add(fieldErr.Field(), "parent and child fields must differ", "Choose different parent and child fields.")
			default:
				failures.add(fieldErr.Field(), fmt.Sprintf("failed %q check", fieldErr.Tag()), "")
			}
		}
	}

	mapping, err := ParseParentChildMapping(opts.ParentChildMapping)
	if err != nil {
		failures.add(PropertyParentChildMapping, err.Error(), "Use semicolon separated source=target pairs.")
	}
	for _, key := range []struct{ property, name string }{
		{PropertyParentField, opts.ParentField},
		{PropertyChildField, opts.ChildField},
	} {
		if key.name == "" {
			continue
		}
		if mappingReferences(mapping, key.name) {
			failures.add(PropertyParentChildMapping,
				fmt.Sprintf("mapping references key field %q", key.name),
				fmt.Sprintf("Remove %s from the parent-child mapping.", key.property))
		}
	}

	maxDepth, err := ParseMaxDepth(opts.MaxDepth)
	if err != nil {
		failures.add(PropertyMaxDepth, err.Error(), "Provide a positive integer.")
	}

	if err := failures.orNil(); err != nil {
		return domain.FlattenConfig{}, err
	}

	cfg := domain.FlattenConfig{
		ParentField:        opts.ParentField,
		ChildField:         opts.ChildField,
		ParentChildMapping: mapping,
		LevelField:         opts.LevelField,
		TopField:           opts.TopField,
		BottomField:        opts.BottomField,
		TrueValue:          opts.TrueValue,
		FalseValue:         opts.FalseValue,
		MaxDepth:           maxDepth,
	}
	return cfg.WithDefaults(), nil
}

func mappingReferences(mapping map[string]string, field string) bool {
	for source, target := range mapping {
		if source == field || target == field {
			return true
		}
	}
	return false
}

// ParseParentChildMapping parses "source=target;source=target". Blank pairs
// are skipped and whitespace around names is dropped.
func ParseParentChildMapping(raw string) (map[string]string, error) {
	mapping := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		source, target, ok := strings.Cut(pair, "=")
		source = strings.TrimSpace(source)
		target = strings.TrimSpace(target)
		if !ok || source == "" || target == "" {
			return nil, fmt.Errorf("malformed mapping pair %q", pair)
		}
		if existing, dup := mapping[source]; dup && existing != target {
			return nil, fmt.Errorf("field %q is mapped more than once", source)
		}
		mapping[source] = target
	}
	return mapping, nil
}

// ParseMaxDepth returns the default for a blank value and otherwise requires
// a positive integer.
func ParseMaxDepth(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.DefaultMaxDepth, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("max depth %q is not an integer", raw)
	}
	if depth <= 0 {
		return 0, fmt.Errorf("max depth must be positive, got %d", depth)
	}
	return depth, nil
}
