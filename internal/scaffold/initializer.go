// Package scaffold creates a starter warren project: warren.yml, a script tree and a
// require()-able module directory.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	configFile = "warren.yml"
	scriptsDir = "scripts"
	libDir     = "lib"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string // relative to the project directory
	Template    string
	Permissions os.FileMode
}

var projectFiles = []FileInfo{
	{Path: configFile, Template: "templates/warren.yml.tmpl", Permissions: 0644},
	{Path: filepath.Join(scriptsDir, "hello.lua"), Template: "templates/hello.lua.tmpl", Permissions: 0644},
	{Path: filepath.Join(libDir, "greet.lua"), Template: "templates/greet.lua.tmpl", Permissions: 0644},
}

// Initialize creates the project structure in dir and returns the created paths.
// If force is true, existing warren.yml, scripts/ and lib/ are removed first.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := handleForce(dir); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(dir); err != nil {
		return nil, err
	}

	for _, sub := range []string{scriptsDir, libDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", sub, err)
		}
	}

	created := make([]string, 0, len(projectFiles))
	for _, file := range projectFiles {
		content, err := templatesFS.ReadFile(file.Template)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", file.Path, err)
		}
		if err := os.WriteFile(filepath.Join(dir, file.Path), content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file.Path)
	}

	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}
	return created, nil
}

// handleForce removes existing project files
func handleForce(dir string) error {
	for _, name := range []string{configFile, scriptsDir, libDir} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		fmt.Printf("⚠️  Removing existing %s...\n", name)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// validateCreatedFiles checks the config loads and every script compiles
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, configFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", configFile, err)
	}

	compiler := bytecode.NewCompiler()
	for _, file := range projectFiles[1:] {
		if _, err := compiler.CompileFile(filepath.Join(dir, file.Path)); err != nil {
			return fmt.Errorf("created %s does not compile: %w", file.Path, err)
		}
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess(created []string) {
	fmt.Println("\n✅ Successfully initialized warren project!")
	fmt.Println("\nCreated:")
	for _, path := range created {
		fmt.Printf("  ✓ %s\n", path)
	}
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add '.warren/' to your .gitignore file")
	fmt.Println("  2. Run 'warren check' to compile the script tree")
	fmt.Println("  3. Run 'warren run -p 1' to load it with one partition")
}
