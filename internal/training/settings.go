package training

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/book-expert/tts-studio/internal/fileutil"
)

// Defaults for training settings.
const (
	DefaultBatchSize    = 128
	DefaultLearningRate = 1e-5
	DefaultPrintRate    = 50
	DefaultSaveRate     = 50
	DefaultName         = "finetune"
	DefaultDatasetPath  = "./training/finetune/train.txt"
)

const (
	placeholderFmt = "${%s}"
	savedFmt       = "Training settings saved to: %s"
	extYAML        = ".yaml"

	errFmtReadTemplate = "failed to read training template %s: %w"
	errFmtRendered     = "%w: %w"
)

// ErrInvalidTemplate is returned when the rendered configuration is not YAML.
var ErrInvalidTemplate = errors.New("rendered training configuration is not valid YAML")

// Options are the user-facing training settings. Zero values take defaults.
type Options struct {
	Name           string
	DatasetName    string
	DatasetPath    string
	ValidationName string
	ValidationPath string
	LearningRate   float64
	BatchSize      int
	PrintRate      int
	SaveRate       int
}

// WithDefaults fills every zero field.
func (o Options) WithDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}

	if o.LearningRate == 0 {
		o.LearningRate = DefaultLearningRate
	}

	if o.PrintRate == 0 {
		o.PrintRate = DefaultPrintRate
	}

	if o.SaveRate == 0 {
		o.SaveRate = DefaultSaveRate
	}

	o.Name = orDefault(o.Name, DefaultName)
	o.DatasetName = orDefault(o.DatasetName, DefaultName)
	o.DatasetPath = orDefault(o.DatasetPath, DefaultDatasetPath)
	o.ValidationName = orDefault(o.ValidationName, DefaultName)
	o.ValidationPath = orDefault(o.ValidationPath, DefaultDatasetPath)

	return o
}

// Values maps template keys to their rendered values.
func (o Options) Values() map[string]string {
	return map[string]string{
		"batch_size":      strconv.Itoa(o.BatchSize),
		"learning_rate":   strconv.FormatFloat(o.LearningRate, 'g', -1, 64),
		"print_rate":      strconv.Itoa(o.PrintRate),
		"save_rate":       strconv.Itoa(o.SaveRate),
		"name":            o.Name,
		"dataset_name":    o.DatasetName,
		"dataset_path":    o.DatasetPath,
		"validation_name": o.ValidationName,
		"validation_path": o.ValidationPath,
	}
}

// Render replaces every ${key} placeholder with its value. Unknown
// placeholders are left untouched.
func Render(template string, values map[string]string) string {
	pairs := make([]string, 0, 2*len(values))
	for key, value := range values {
		pairs = append(pairs, fmt.Sprintf(placeholderFmt, key), value)
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

// SaveSettings renders the template at templatePath with opts and writes the
// result to {outDir}/{name}.yaml.
func SaveSettings(templatePath, outDir string, opts Options) (string, error) {
	opts = opts.WithDefaults()

	template, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf(errFmtReadTemplate, templatePath, err)
	}

	rendered := Render(string(template), opts.Values())

	var parsed map[string]any

	yamlErr := yaml.Unmarshal([]byte(rendered), &parsed)
	if yamlErr != nil {
		return "", fmt.Errorf(errFmtRendered, ErrInvalidTemplate, yamlErr)
	}

	outfile := filepath.Join(outDir, opts.Name+extYAML)

	err = fileutil.WriteText(outfile, rendered)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(savedFmt, outfile), nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
