package build

import (
	"fmt"

	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
)

// Override is a caller-supplied image and command. Nil fields are not given.
type Override struct {
	Image   *string
	Command *string
}

// Defaults are the service-wide build image and command.
type Defaults struct {
	Image   string
	Command string
}

// Resolution is the effective image and command. A nil Command leaves the
// image's own entrypoint in charge.
type Resolution struct {
	Image   string
	Command *string
	Notes   []string
}

// Resolve applies the precedence: override image, then the course meta file,
// then the defaults.
func Resolve(o Override, meta *courseconfig.Meta, d Defaults) Resolution {
	if o.Image != nil {
		return Resolution{
			Image:   *o.Image,
			Command: o.Command,
			Notes:   []string{fmt.Sprintf("Build image and command overridden: %s, %s", *o.Image, describe(o.Command))},
		}
	}

	r := Resolution{Image: d.Image, Command: o.Command}
	defaultCommand := func() *string {
		if d.Command == "" {
			return nil
		}
		c := d.Command
		return &c
	}

	if meta == nil {
		if r.Command == nil {
			r.Command = defaultCommand()
		}
		r.note("No %s file, using the default build image: %s", courseconfig.MetaFile, r.Image)
		return r
	}

	if meta.BuildImage != "" {
		r.Image = meta.BuildImage
		r.note("Using build image: %s", r.Image)
	} else {
		r.note("No build_image in %s, using the default: %s", courseconfig.MetaFile, r.Image)
	}

	switch {
	case meta.BuildCommand != "":
		c := meta.BuildCommand
		r.Command = &c
		r.note("Using build command: %s", c)
	case r.Command != nil:
		r.note("Build command overridden: %s", *r.Command)
	case meta.BuildImage == "":
		r.Command = defaultCommand()
		r.note("No build_command in %s, using the default: %s", courseconfig.MetaFile, describe(r.Command))
	default:
		r.note("No build_command in %s or service settings, using the image default", courseconfig.MetaFile)
	}
	return r
}

func (r *Resolution) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func describe(s *string) string {
	if s == nil {
		return "<image default>"
	}
	return *s
}
