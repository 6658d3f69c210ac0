package validator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/model"
)

// RowValidator checks entity payloads against the declared model.
type RowValidator struct {
	model *model.Model
}

// NewRowValidator creates a validator for the entities of m.
func NewRowValidator(m *model.Model) *RowValidator {
	return &RowValidator{model: m}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// Error joins the messages of all errors.
func (r ValidationResult) Error() string {
	messages := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		messages[i] = e.Message
	}
	return strings.Join(messages, "; ")
}

// ValidateRow validates a deep payload of entity. A partial payload (an
// update patch) may omit keys; otherwise non-UUID keys are required.
func (v *RowValidator) ValidateRow(entity string, row domain.Row, partial bool) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []ValidationError{}}
	declared, ok := v.model.Entity(entity)
	if !ok {
		result.add("", fmt.Sprintf("entity '%s' is not defined in the model", entity), nil)
		return result
	}
	v.validate(&result, "", declared, row, partial)
	return result
}

func (r *ValidationResult) add(field, message string, value any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Value: value})
}

func (v *RowValidator) validate(result *ValidationResult, prefix string, entity *model.Entity, row domain.Row, partial bool) {
	known := map[string]bool{}
	for _, el := range entity.Elements {
		field := prefix + el.Name
		switch el.Kind {
		case model.KindAssociation:
			target, _ := v.model.Entity(el.Target)
			for i, column := range el.ForeignKeyColumns() {
				known[column] = true
				value, exists := row[column]
				if !exists || value == nil {
					continue
				}
				typ := model.TypeString
				if target != nil {
					if key, ok := target.Element(el.ForeignKeys[i]); ok {
						typ = key.Type
					}
				}
				if err := validateFieldType(prefix+column, value, typ); err != nil {
					result.add(prefix+column, err.Error(), value)
				}
			}
			known[el.Name] = true
			if _, exists := row[el.Name]; exists {
				result.add(field, fmt.Sprintf("association '%s' must be written through its foreign keys %s", field, strings.Join(el.ForeignKeyColumns(), ", ")), nil)
			}
		case model.KindComposition:
			known[el.Name] = true
			value, exists := row[el.Name]
			if !exists || value == nil {
				continue
			}
			children, ok := domain.AsRows(value)
			if !ok {
				result.add(field, fmt.Sprintf("composition '%s' must hold objects, got %T", field, value), value)
				continue
			}
			target, _ := v.model.Entity(el.Target)
			if target == nil {
				continue
			}
			for i, child := range children {
				v.validate(result, fmt.Sprintf("%s[%d].", field, i), target, child, true)
			}
		case model.KindStruct:
			known[el.Name] = true
			value, exists := row[el.Name]
			if !exists || value == nil {
				continue
			}
			nested, ok := domain.AsRow(value)
			if !ok {
				result.add(field, fmt.Sprintf("field '%s' must be an object, got %T", field, value), value)
				continue
			}
			v.validate(result, field+".", &model.Entity{Name: entity.Name, Elements: el.Elements}, nested, true)
		default:
			known[el.Name] = true
			value, exists := row[el.Name]
			if !exists || value == nil {
				if el.Key && !partial && el.Type != model.TypeUUID {
					result.add(field, fmt.Sprintf("key '%s' is missing", field), nil)
				}
				continue
			}
			if err := validateFieldType(field, value, el.Type); err != nil {
				result.add(field, err.Error(), value)
			}
		}
	}

	for name, value := range row {
		if !known[name] {
			result.add(prefix+name, fmt.Sprintf("property '%s' is not defined in the model", prefix+name), value)
		}
	}
}

// validateFieldType validates the type of a field value
func validateFieldType(fieldName string, value any, expectedType model.DataType) error {
	switch expectedType {
	case "", model.TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
	case model.TypeInteger:
		if !isInteger(value) {
			return fmt.Errorf("field '%s' must be an integer, got %T", fieldName, value)
		}
	case model.TypeDecimal, model.TypeDouble:
		if !isFloat(value) {
			return fmt.Errorf("field '%s' must be a number, got %T", fieldName, value)
		}
	case model.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field '%s' must be a boolean, got %T", fieldName, value)
		}
	case model.TypeUUID:
		strVal, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be a UUID string, got %T", fieldName, value)
		}
		if _, err := uuid.Parse(strings.TrimSpace(strVal)); err != nil {
			return fmt.Errorf("field '%s' must be a valid UUID string: %v", fieldName, err)
		}
	case model.TypeDate, model.TypeDateTime, model.TypeTimestamp:
		switch v := value.(type) {
		case string:
			if !parsesAsTime(v, expectedType) {
				return fmt.Errorf("field '%s' must be a valid %s", fieldName, strings.ToLower(string(expectedType)))
			}
		case time.Time:
			// already parsed; accept value
		default:
			return fmt.Errorf("field '%s' must be a %s string, got %T", fieldName, strings.ToLower(string(expectedType)), value)
		}
	case model.TypeTime:
		strVal, ok := value.(string)
		if !ok {
			if _, isTime := value.(time.Time); isTime {
				return nil
			}
			return fmt.Errorf("field '%s' must be a time string, got %T", fieldName, value)
		}
		if _, err := time.Parse("15:04:05", strVal); err != nil {
			return fmt.Errorf("field '%s' must be a valid time (hh:mm:ss): %v", fieldName, err)
		}
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}

	return nil
}

func parsesAsTime(value string, typ model.DataType) bool {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05"}
	if typ == model.TypeDate {
		layouts = append([]string{"2006-01-02"}, layouts...)
	}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// Helper methods for type checking
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case string:
		_, err := strconv.Atoi(v)
		return err == nil
	default:
		return false
	}
}

func isFloat(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case string:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	default:
		return false
	}
}
