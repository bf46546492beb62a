package protocol

import "fmt"

const (
	commandKey     = "command"
	workingPathKey = "workingPath"
	backgroundKey  = "background"
)

// Command is a shell command an executor runs. WorkingPath is relative to the
// executor working directory unless absolute. Background commands are started
// without waiting for them to exit.
type Command struct {
	Command     string
	WorkingPath string
	Background  bool
}

func (c Command) value() map[string]any {
	v := map[string]any{commandKey: c.Command}
	if c.WorkingPath != "" {
		v[workingPathKey] = c.WorkingPath
	}
	if c.Background {
		v[backgroundKey] = true
	}
	return v
}

func commandFromValue(value any) (Command, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return Command{}, fmt.Errorf("expected object, got %T", value)
	}

	line, ok := fields[commandKey].(string)
	if !ok || line == "" {
		return Command{}, fmt.Errorf("missing %q", commandKey)
	}
	cmd := Command{Command: line}

	if wp, ok := fields[workingPathKey]; ok && wp != nil {
		s, ok := wp.(string)
		if !ok {
			return Command{}, fmt.Errorf("%q must be a string", workingPathKey)
		}
		cmd.WorkingPath = s
	}
	if bg, ok := fields[backgroundKey]; ok && bg != nil {
		b, ok := bg.(bool)
		if !ok {
			return Command{}, fmt.Errorf("%q must be a boolean", backgroundKey)
		}
		cmd.Background = b
	}
	return cmd, nil
}
