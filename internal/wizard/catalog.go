package wizard

import (
	"fmt"
	"strings"
)

// Setting is one selectable story setting.
type Setting struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Catalog lists the choices offered during registration.
type Catalog struct {
	Genres     []string  `yaml:"genres"`
	Characters []string  `yaml:"characters"`
	Settings   []Setting `yaml:"settings"`
}

// DefaultCatalog returns the built-in choices.
func DefaultCatalog() Catalog {
	return Catalog{
		Genres:     []string{"Fantasy", "Horror", "Comedy", "Detective"},
		Characters: []string{"Knight", "Wizard", "Pirate", "Robot"},
		Settings: []Setting{
			{Name: "Castle", Description: "An ancient castle on a cliff, full of secret passages and old grudges."},
			{Name: "Space station", Description: "A research station orbiting a dying star, where the crew has stopped talking."},
			{Name: "Harbor town", Description: "A foggy port town where every ship brings a new rumor."},
		},
	}
}

// Validate reports an empty section.
func (c Catalog) Validate() error {
	if len(c.Genres) == 0 || len(c.Characters) == 0 || len(c.Settings) == 0 {
		return fmt.Errorf("story catalog needs at least one genre, character and setting")
	}
	return nil
}

// SettingNames returns the setting keys in catalog order.
func (c Catalog) SettingNames() []string {
	names := make([]string, 0, len(c.Settings))
	for _, s := range c.Settings {
		names = append(names, s.Name)
	}
	return names
}

// SettingDescription returns the description for name, or "" if unknown.
func (c Catalog) SettingDescription(name string) string {
	for _, s := range c.Settings {
		if s.Name == name {
			return s.Description
		}
	}
	return ""
}

func (c Catalog) settingList() string {
	lines := make([]string, 0, len(c.Settings))
	for _, s := range c.Settings {
		lines = append(lines, fmt.Sprintf("%s: %s", s.Name, s.Description))
	}
	return strings.Join(lines, "\n")
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
