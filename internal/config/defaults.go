package config

import (
	"os"
	"path/filepath"
)

// DataDir returns the base zwsentry directory: ZWSENTRY_DATA_DIR when set,
// otherwise ~/.zwsentry.
func DataDir() string {
	if envDir := os.Getenv("ZWSENTRY_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".zwsentry"
	}
	return filepath.Join(home, ".zwsentry")
}

// DefaultExcludePatterns returns the glob patterns AutoDetect never reads.
func DefaultExcludePatterns() []string {
	return []string{
		// Version control
		".git",
		".svn",
		".hg",

		// Dependency and build trees
		"node_modules",
		"vendor",
		"__pycache__",

		// Editor droppings
		"*.swp",
		"*.swo",
		"*~",
		".DS_Store",
	}
}

// SupportedConfigFormats returns the supported configuration file extensions.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	if p := os.Getenv("ZWSENTRY_CONFIG"); p != "" {
		return p
	}

	// Search order:
	// 1. Current directory (zwsentry.<ext>)
	// 2. Data directory (config.<ext>)
	for _, ext := range SupportedConfigFormats() {
		path := "zwsentry." + ext
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, ext := range SupportedConfigFormats() {
		path := filepath.Join(DataDir(), "config."+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
