package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/villasimius/sitebuild/internal/validation"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validatePathsConfig(&config.Paths); err != nil {
		return fmt.Errorf("paths config: %w", err)
	}

	if err := validateStylesheetsConfig(&config.Stylesheets); err != nil {
		return fmt.Errorf("stylesheets config: %w", err)
	}

	if err := validateRelative("scripts.entry", config.Scripts.Entry); err != nil {
		return err
	}
	if err := validateRelative("scripts.output", config.Scripts.Output); err != nil {
		return err
	}

	if err := validateSpritesConfig(&config.Sprites); err != nil {
		return fmt.Errorf("sprites config: %w", err)
	}

	if err := validateIconFontConfig(&config.IconFont); err != nil {
		return fmt.Errorf("iconfont config: %w", err)
	}

	if config.Pipeline.MaxParallel < 0 {
		return &ValidationError{Field: "pipeline.max_parallel", Value: config.Pipeline.MaxParallel, Message: "must not be negative"}
	}
	if config.Pipeline.ProducerTimeout < 0 {
		return &ValidationError{Field: "pipeline.producer_timeout", Value: config.Pipeline.ProducerTimeout, Message: "must not be negative"}
	}
	if config.Watch.Debounce < 0 {
		return &ValidationError{Field: "watch.debounce", Value: config.Watch.Debounce, Message: "must not be negative"}
	}

	if err := validateReloadConfig(&config.Reload); err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	return nil
}

func validatePathsConfig(config *PathsConfig) error {
	if config.Root == "" {
		return &ValidationError{Field: "paths.root", Message: "must not be empty"}
	}
	for field, value := range map[string]string{
		"paths.source": config.Source,
		"paths.dist":   config.Dist,
		"paths.temp":   config.Temp,
	} {
		if err := validateRelative(field, value); err != nil {
			return err
		}
	}

	// Cleaning the distribution directory must never remove the sources.
	src := filepath.Clean(config.Source)
	dist := filepath.Clean(config.Dist)
	if src == dist || strings.HasPrefix(src+string(filepath.Separator), dist+string(filepath.Separator)) {
		return &ValidationError{Field: "paths.dist", Value: config.Dist, Message: "must not contain the source directory"}
	}
	if dist == "." {
		return &ValidationError{Field: "paths.dist", Value: config.Dist, Message: "must not be the project root"}
	}

	return nil
}

func validateStylesheetsConfig(config *StylesheetsConfig) error {
	if err := validateRelative("stylesheets.entry", config.Entry); err != nil {
		return err
	}
	for _, p := range config.LoadPaths {
		if err := validateRelative("stylesheets.load_paths", p); err != nil {
			return err
		}
	}
	if err := validateCommandLine("stylesheets.compiler", config.Compiler); err != nil {
		return err
	}
	if config.PostProcess != "" {
		if err := validateCommandLine("stylesheets.post_process", config.PostProcess); err != nil {
			return err
		}
	}
	return nil
}

func validateSpritesConfig(config *SpritesConfig) error {
	for field, value := range map[string]string{
		"sprites.retina_image": config.RetinaImage,
		"sprites.image":        config.Image,
		"sprites.partial":      config.Partial,
	} {
		if err := validateRelative(field, value); err != nil {
			return err
		}
	}
	if config.Padding < 0 {
		return &ValidationError{Field: "sprites.padding", Value: config.Padding, Message: "must not be negative"}
	}
	return nil
}

func validateIconFontConfig(config *IconFontConfig) error {
	if config.FontName == "" {
		return &ValidationError{Field: "iconfont.font_name", Message: "must not be empty"}
	}
	if err := validation.ValidateArgument(config.FontName); err != nil {
		return &ValidationError{Field: "iconfont.font_name", Value: config.FontName, Message: err.Error()}
	}
	// Private Use Area only, so generated glyphs never shadow real characters.
	if config.StartCodepoint < 0xE000 || config.StartCodepoint > 0xF8FF {
		return &ValidationError{Field: "iconfont.start_codepoint", Value: config.StartCodepoint, Message: "must be inside the Private Use Area U+E000..U+F8FF"}
	}
	if config.Convert != "" {
		if err := validateCommandLine("iconfont.convert", strings.ReplaceAll(config.Convert, "{font}", "font")); err != nil {
			return err
		}
	}
	return validateRelative("iconfont.partial", config.Partial)
}

func validateReloadConfig(config *ReloadConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return &ValidationError{Field: "reload.port", Value: config.Port, Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port)}
	}
	if config.Delay < 0 {
		return &ValidationError{Field: "reload.delay", Value: config.Delay, Message: "must not be negative"}
	}
	if config.Host != "" {
		if err := validation.ValidateArgument(config.Host); err != nil {
			return &ValidationError{Field: "reload.host", Value: config.Host, Message: err.Error()}
		}
	}
	if config.Proxy != "" {
		if _, err := validation.ParseProxyTarget(config.Proxy); err != nil {
			return &ValidationError{Field: "reload.proxy", Value: config.Proxy, Message: err.Error()}
		}
	}
	return nil
}

// validateRelative rejects empty, absolute and traversing paths.
func validateRelative(field, path string) error {
	if err := validation.ValidatePath(path); err != nil {
		return &ValidationError{Field: field, Value: path, Message: err.Error()}
	}
	if filepath.IsAbs(path) {
		return &ValidationError{Field: field, Value: path, Message: "should be a relative path"}
	}
	return nil
}

// validateCommandLine checks each word of a configured command.
func validateCommandLine(field, command string) error {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return &ValidationError{Field: field, Message: "command must not be empty"}
	}
	for _, part := range parts {
		if err := validation.ValidateArgument(part); err != nil {
			return &ValidationError{Field: field, Value: command, Message: err.Error()}
		}
	}
	return nil
}
