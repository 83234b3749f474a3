package courseconfig

// Index is the course manifest (index.yaml).
type Index struct {
	Name            string   `yaml:"name" validate:"required"`
	Lang            []string `yaml:"lang,omitempty" validate:"omitempty,dive,alpha,len=2"`
	StaticDir       string   `yaml:"static_dir,omitempty"`
	GraderConfigDir string   `yaml:"grader_config_dir,omitempty"`
	Modules         []Module `yaml:"modules" validate:"dive"`
}

type Module struct {
	Key       string     `yaml:"key" validate:"required"`
	Name      string     `yaml:"name,omitempty"`
	Exercises []Exercise `yaml:"exercises,omitempty" validate:"dive"`
}

type Exercise struct {
	Key       string `yaml:"key" validate:"required"`
	Name      string `yaml:"name,omitempty"`
	Config    string `yaml:"config,omitempty"`
	MaxPoints int    `yaml:"max_points,omitempty" validate:"gte=0"`
}

// ExerciseConfig is a grader configuration file, keyed by language.
type ExerciseConfig map[string]LangConfig

type LangConfig struct {
	TemplateFiles []string  `yaml:"template_files,omitempty" json:"template_files,omitempty"`
	ModelFiles    []string  `yaml:"model_files,omitempty" json:"model_files,omitempty"`
	Include       []Include `yaml:"include,omitempty" json:"include,omitempty"`
}

type Include struct {
	File string `yaml:"file" json:"file"`
}

// Exercises flattens all exercises in module order.
func (ix *Index) Exercises() []Exercise {
	var out []Exercise
	for _, m := range ix.Modules {
		out = append(out, m.Exercises...)
	}
	return out
}
