package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/zulandar/shoprelay/internal/agent"
)

// Tool names as the model sees them.
const (
	ToolProductAvailability   = "getProductAvailability"
	ToolProductCategories     = "getProductCategories"
	ToolCategoryProductsPrice = "getCategoryProductsByPrice"
	ToolVariantsMatching      = "getVariantsMatchingFilters"
)

// Tools returns the storefront lookups bound to c.
func Tools(c *Client) []agent.Tool {
	return []agent.Tool{
		newTool(ToolProductAvailability,
			"Check Shopify product availability by name or query string",
			availabilitySchema, c.productAvailability),
		newTool(ToolProductCategories,
			"List available Shopify product categories (collections)",
			categoriesSchema, c.productCategories),
		newTool(ToolCategoryProductsPrice,
			"Search product categories and return products sorted by price",
			byPriceSchema, c.categoryProductsByPrice),
		newTool(ToolVariantsMatching,
			"Find product variants whose options (size, color, ...) match the given filters",
			variantsSchema, c.variantsMatchingFilters),
	}
}

type runFunc func(ctx context.Context, input json.RawMessage) (any, error)

type tool struct {
	name        string
	description string
	schema      json.RawMessage
	compiled    *jsonschema.Schema
	run         runFunc
}

func newTool(name, description, schema string, run runFunc) *tool {
	return &tool{
		name:        name,
		description: description,
		schema:      json.RawMessage(schema),
		compiled:    mustCompile(name, schema),
		run:         run,
	}
}

func (t *tool) Name() string            { return t.name }
func (t *tool) Description() string     { return t.description }
func (t *tool) Schema() json.RawMessage { return t.schema }

// Call validates input against the tool schema before querying the store.
func (t *tool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(input)))
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: invalid JSON arguments: %w", t.name, err)
	}
	if err := t.compiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("catalog: %s: invalid arguments: %w", t.name, err)
	}

	out, err := t.run(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", t.name, err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: encode result: %w", t.name, err)
	}
	return b, nil
}

func mustCompile(name, schema string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		panic(fmt.Sprintf("catalog: schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	url := name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		panic(fmt.Sprintf("catalog: schema %s: %v", name, err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("catalog: schema %s: %v", name, err))
	}
	return s
}

// queryErrors folds a missing-credentials failure into the GraphQL errors
// array so the model can tell the customer the catalog is unavailable.
func queryErrors(gqlErrs []GraphQLError, err error) ([]GraphQLError, error) {
	if errors.Is(err, ErrMissingCredentials) {
		return []GraphQLError{{Message: "Missing Shopify storefront credentials"}}, nil
	}
	return gqlErrs, err
}

const availabilitySchema = `{
  "type": "object",
  "properties": {
    "search": {
      "type": "string",
      "minLength": 1,
      "description": "Product name or Shopify search query (e.g. iPhone 16 or title:\"iPhone 16\")"
    }
  },
  "required": ["search"],
  "additionalProperties": false
}`

const categoriesSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Optional search query for collections (e.g. title:'Phones')"}
  },
  "additionalProperties": false
}`

const byPriceSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Optional search query for collections (e.g. title:'Phones')"},
    "sort": {"type": "string", "enum": ["asc", "desc"], "description": "Sort direction for price"}
  },
  "additionalProperties": false
}`

const variantsSchema = `{
  "type": "object",
  "properties": {
    "search": {"type": "string", "minLength": 1, "description": "Product name or Shopify search query"},
    "options": {
      "type": "object",
      "additionalProperties": {"type": "string"},
      "description": "Option name to required value, e.g. {\"Size\": \"M\", \"Color\": \"Black\"}"
    },
    "availableOnly": {"type": "boolean", "description": "Only return variants available for sale"}
  },
  "required": ["search"],
  "additionalProperties": false
}`
