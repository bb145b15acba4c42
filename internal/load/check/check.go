// Package check evaluates named boolean assertions against responses.
package check

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is what a check sees of one request. Err is set when no response
// was received; StatusCode is 0 in that case.
type Response struct {
	PullRequestID string
	StatusCode    int
	Body          []byte
	Err           error
}

// Check is a named predicate over a Response.
type Check interface {
	Name() string
	Evaluate(r *Response) bool
}

type statusIn struct {
	name  string
	codes map[int]struct{}
}

// StatusIn passes when a response arrived with one of codes.
// The name reads "status is 201 or 409".
func StatusIn(codes ...int) Check {
	set := make(map[int]struct{}, len(codes))
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, dup := set[c]; dup {
			continue
		}
		set[c] = struct{}{}
		parts = append(parts, strconv.Itoa(c))
	}
	return &statusIn{
		name:  "status is " + strings.Join(parts, " or "),
		codes: set,
	}
}

func (c *statusIn) Name() string { return c.name }

func (c *statusIn) Evaluate(r *Response) bool {
	if r.Err != nil {
		return false
	}
	_, ok := c.codes[r.StatusCode]
	return ok
}

// DefaultIDPath is where the reference service echoes the created id.
const DefaultIDPath = "pr.pull_request_id"

type echoesID struct {
	path string
}

// EchoesID checks that a 201 body carries the id that was sent at the gjson
// path. Other statuses pass; transport failures fail.
func EchoesID(path string) Check {
	if path == "" {
		path = DefaultIDPath
	}
	return &echoesID{path: path}
}

func (c *echoesID) Name() string { return "echoes pull_request_id" }

func (c *echoesID) Evaluate(r *Response) bool {
	if r.Err != nil {
		return false
	}
	if r.StatusCode != http.StatusCreated {
		return true
	}
	got := gjson.GetBytes(r.Body, c.path)
	return got.Exists() && got.String() == r.PullRequestID
}

type matchesSchema struct {
	name   string
	schema *jsonschema.Schema
}

// MatchesSchema compiles schemaJSON once and returns a check that passes when
// a response body validates against it.
func MatchesSchema(name string, schemaJSON []byte) (Check, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if name == "" {
		name = "body matches schema"
	}
	return &matchesSchema{name: name, schema: schema}, nil
}

func (c *matchesSchema) Name() string { return c.name }

func (c *matchesSchema) Evaluate(r *Response) bool {
	if r.Err != nil || len(r.Body) == 0 {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(r.Body, &doc); err != nil {
		return false
	}
	return c.schema.Validate(doc) == nil
}
