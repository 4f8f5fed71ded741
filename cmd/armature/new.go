package main

import (
	"crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

//go:embed templates/*
var templatesFS embed.FS

var (
	newInteractive bool
	newStore       string
	newPort        int
	newAuth        bool
)

var storeDrivers = []string{"memory", "sqlite", "postgres"}

var newCmd = &cobra.Command{
	Use:   "new [project-name]",
	Short: "Create a new armature project",
	Long: `Create a new armature project with a config file and sample
collection definitions.

If no project name is provided, you will be prompted to enter one.

Examples:
  armature new my-shop
  armature new my-shop --store sqlite --auth
  armature new --interactive`,
	RunE: runNew,
}

func init() {
	newCmd.Flags().BoolVarP(&newInteractive, "interactive", "i", false, "Interactive project setup with prompts")
	newCmd.Flags().StringVar(&newStore, "store", "memory", "Store driver (memory, sqlite, postgres)")
	newCmd.Flags().IntVar(&newPort, "port", 8080, "Server port")
	newCmd.Flags().BoolVar(&newAuth, "auth", false, "Include a users collection and session auth")
}

// validateProjectName rejects names that would escape the working directory
// or produce awkward paths.
func validateProjectName(name string) error {
	name = strings.TrimSpace(name)

	if len(name) == 0 || len(name) > 100 {
		return fmt.Errorf("project name must be 1-100 characters")
	}

	if filepath.IsAbs(name) {
		return fmt.Errorf("project name cannot be an absolute path")
	}

	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, name)
	if !matched {
		return fmt.Errorf("project name can only contain letters, numbers, dashes, and underscores")
	}

	return nil
}

type scaffoldData struct {
	ProjectName string
	Port        int
	StoreDriver string
	StoreURL    string
	Auth        bool
	Secret      string
}

func runNew(cmd *cobra.Command, args []string) error {
	var projectName string
	if len(args) > 0 {
		projectName = args[0]
	}

	if projectName == "" {
		prompt := &survey.Input{
			Message: "Project name:",
		}
		if err := survey.AskOne(prompt, &projectName, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	if newInteractive {
		if err := promptNewOptions(); err != nil {
			return err
		}
	}

	if err := validateProjectName(projectName); err != nil {
		return err
	}
	if !validStoreDriver(newStore) {
		return fmt.Errorf("unknown store driver %q (expected memory, sqlite, or postgres)", newStore)
	}
	if newPort < 1 || newPort > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	data := scaffoldData{
		ProjectName: projectName,
		Port:        newPort,
		StoreDriver: newStore,
		StoreURL:    defaultStoreURL(newStore, projectName),
		Auth:        newAuth,
	}
	if newAuth {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate auth secret: %w", err)
		}
		data.Secret = secret
	}

	return scaffoldProject(filepath.Join(".", projectName), data)
}

func promptNewOptions() error {
	storePrompt := &survey.Select{
		Message: "Store driver:",
		Options: storeDrivers,
		Default: newStore,
	}
	if err := survey.AskOne(storePrompt, &newStore); err != nil {
		return err
	}

	var portStr string
	portPrompt := &survey.Input{
		Message: "Server port:",
		Default: strconv.Itoa(newPort),
	}
	if err := survey.AskOne(portPrompt, &portStr); err != nil {
		return err
	}
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		newPort = port
	}

	authPrompt := &survey.Confirm{
		Message: "Include session auth and a users collection?",
		Default: newAuth,
	}
	return survey.AskOne(authPrompt, &newAuth)
}

func validStoreDriver(driver string) bool {
	for _, d := range storeDrivers {
		if d == driver {
			return true
		}
	}
	return false
}

func defaultStoreURL(driver, projectName string) string {
	switch driver {
	case "sqlite":
		return filepath.Join("data", projectName+".db")
	case "postgres":
		return fmt.Sprintf("postgres://localhost:5432/%s?sslmode=disable", projectName)
	default:
		return ""
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func scaffoldProject(projectPath string, data scaffoldData) error {
	successColor := color.New(color.FgGreen, color.Bold)
	infoColor := color.New(color.FgCyan)
	promptColor := color.New(color.FgYellow)

	if _, err := os.Stat(projectPath); err == nil {
		return fmt.Errorf("directory %s already exists", projectPath)
	}

	infoColor.Printf("Creating project: %s\n\n", data.ProjectName)

	dirs := []string{
		projectPath,
		filepath.Join(projectPath, "entities"),
	}
	if data.StoreDriver == "sqlite" {
		dirs = append(dirs, filepath.Join(projectPath, "data"))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	files := map[string]string{
		"armature.yml":             "templates/config.yml.tmpl",
		"entities/categories.yaml": "templates/categories.yaml.tmpl",
		"entities/products.yaml":   "templates/products.yaml.tmpl",
		".gitignore":               "templates/gitignore.tmpl",
		"README.md":                "templates/readme.md.tmpl",
	}
	if data.Auth {
		files["entities/users.yaml"] = "templates/users.yaml.tmpl"
	}

	for destPath, tmplPath := range files {
		if err := renderTemplate(filepath.Join(projectPath, destPath), tmplPath, data); err != nil {
			return err
		}
		fmt.Printf("  create  %s\n", filepath.Join(data.ProjectName, destPath))
	}

	fmt.Println()
	successColor.Printf("✓ Created project: %s\n\n", data.ProjectName)

	promptColor.Println("Get started:")
	fmt.Printf("  cd %s\n", data.ProjectName)
	fmt.Println("  armature serve --watch")

	return nil
}

func renderTemplate(destPath, tmplPath string, data scaffoldData) error {
	tmplContent, err := templatesFS.ReadFile(tmplPath)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", tmplPath, err)
	}

	tmpl, err := template.New(filepath.Base(tmplPath)).Parse(string(tmplContent))
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", tmplPath, err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", destPath, err)
	}

	if err := tmpl.Execute(f, data); err != nil {
		f.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to render %s: %w", destPath, err)
	}

	return f.Close()
}
