package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// IsValidationError returns true if err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks c against the embedded CUE schema and checks the
// collection graph for unknown parents and cycles.
func (c *Config) Validate() error {
	var problems []string

	schemaProblems, err := checkSchema(c)
	if err != nil {
		return err
	}
	problems = append(problems, schemaProblems...)

	if c.Sync.BackoffMax < c.Sync.BackoffMin {
		problems = append(problems, fmt.Sprintf("sync.backoff_max: %s is below sync.backoff_min %s",
			c.Sync.BackoffMax, c.Sync.BackoffMin))
	}

	// The lease is renewed before each submission, so it has to outlive one.
	if c.Sync.LeaseTTL <= c.Remote.Timeout {
		problems = append(problems, fmt.Sprintf("sync.lease_ttl: %s must exceed remote.timeout %s",
			c.Sync.LeaseTTL, c.Remote.Timeout))
	}

	if _, err := c.Graph(); err != nil {
		problems = append(problems, "collections: "+err.Error())
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// checkSchema unifies the document form of c with #Config. A schema that
// does not compile is returned as an error; violations are returned as
// problems.
func checkSchema(c *Config) ([]string, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	data, err := json.Marshal(c.document())
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("load config value: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, strings.TrimPrefix(e.Error(), "#Config."))
		}
		return problems, nil
	}
	return nil, nil
}
