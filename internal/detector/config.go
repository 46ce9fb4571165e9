package detector

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownVariant marks a stored detector whose variant is not
// registered. Treated as a fatal configuration error by the task runner.
var ErrUnknownVariant = errors.New("unknown detector variant")

// ConfigError marks a detector configuration problem that retrying
// cannot fix.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid detector configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid detector configuration: %s: %s", e.Field, e.Reason)
}

var validate = validator.New()

// decodeConfig unmarshals the stored free-form configuration map into a
// typed per-variant config struct, then checks the struct's validate
// tags. Unknown keys are tolerated here; schema validation rejects them
// when a detector is created or edited.
func decodeConfig(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	return nil
}

func validateConfig(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ConfigError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q constraint", fe.Tag())}
	}
	return &ConfigError{Reason: err.Error()}
}
