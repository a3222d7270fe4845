package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateDocument(data), nil
}

// ValidateDocument validates a config document without resolving env vars.
func ValidateDocument(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
		})
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("version field is required. Hint: Add \"version\": %q", SupportedVersion),
		})
	} else if !strings.HasPrefix(version, SupportedVersion) {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("unsupported version '%s' - use '%s'", version, SupportedVersion),
		})
	}

	if _, ok := rawConfig["clientOrigin"]; !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "clientOrigin",
			Message: "clientOrigin is required. Example: \"https://app.example.com\"",
		})
	}

	if secret, ok := rawConfig["sessionSecret"]; ok {
		if verr := validateEnvVarReference(secret, "sessionSecret", "sessionSecret"); verr != nil {
			result.Errors = append(result.Errors, *verr)
		}
	} else {
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "sessionSecret",
			Message: "sessionSecret is missing - every auth route will fail with 500. Hint: {\"$env\": \"SESSION_SECRET\"}",
		})
	}

	if ttl, ok := rawConfig["sessionTtl"].(string); ok {
		if _, err := time.ParseDuration(ttl); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "sessionTtl",
				Message: fmt.Sprintf("invalid duration '%s'. Example: \"720h\"", ttl),
			})
		}
	}

	if storage, ok := rawConfig["storage"].(map[string]any); ok {
		validateStorageStructure(storage, result)
	}

	if classic, ok := rawConfig["classic"].(map[string]any); ok {
		validateClassicStructure(classic, result)
	} else {
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "classic",
			Message: "classic provider is not configured - GitHub login and stars will answer 500",
		})
	}

	return result
}

func validateStorageStructure(storage map[string]any, result *ValidationResult) {
	kind, _ := storage["kind"].(string)
	switch StorageKind(kind) {
	case "", StorageMemory:
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "storage.kind",
			Message: "memory storage loses every session on restart",
		})
	case StorageFirestore:
		if _, ok := storage["gcpProject"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "storage.gcpProject",
				Message: "gcpProject is required when using firestore storage",
			})
		}
	case StorageRedis:
		if _, ok := storage["redisAddr"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "storage.redisAddr",
				Message: "redisAddr is required when using redis storage. Example: \"localhost:6379\"",
			})
		}
		if password, ok := storage["redisPassword"]; ok {
			if verr := validateEnvVarReference(password, "redisPassword", "storage.redisPassword"); verr != nil {
				result.Errors = append(result.Errors, *verr)
			}
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Path:    "storage.kind",
			Message: fmt.Sprintf("invalid storage kind '%s' - must be memory, firestore or redis", kind),
		})
	}
}

func validateClassicStructure(classic map[string]any, result *ValidationResult) {
	if _, ok := classic["clientId"]; !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "classic.clientId",
			Message: "clientId is required for the classic provider",
		})
	}
	if secret, ok := classic["clientSecret"]; ok {
		if verr := validateEnvVarReference(secret, "clientSecret", "classic.clientSecret"); verr != nil {
			result.Errors = append(result.Errors, *verr)
		}
	} else {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "classic.clientSecret",
			Message: "clientSecret is required for the classic provider",
		})
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName),
			})
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
