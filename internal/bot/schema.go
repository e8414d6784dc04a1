package bot

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// decideRequestSchema constrains the decide request body. The gjson shape
// checks run first so malformed input is rejected with a pointed message
// before the full schema pass.
const decideRequestSchema = `{
	"type": "object",
	"required": ["signal_id", "settings", "account"],
	"properties": {
		"signal_id": {"type": "string", "minLength": 1},
		"settings": {
			"type": "object",
			"required": ["user_id"],
			"properties": {
				"user_id": {"type": "string", "minLength": 1},
				"direction": {"enum": ["BOTH", "LONG_ONLY", "SHORT_ONLY"]},
				"risk_per_trade": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"leverage": {"type": "integer", "minimum": 1, "maximum": 125},
				"max_positions": {"type": "integer", "minimum": 0},
				"max_daily_trades": {"type": "integer", "minimum": 0},
				"max_daily_loss": {"type": "number", "minimum": 0},
				"min_confidence": {"type": "number", "minimum": 0, "maximum": 100}
			}
		},
		"account": {
			"type": "object",
			"properties": {
				"available_balance": {"type": "number", "minimum": 0},
				"open_position_count": {"type": "integer", "minimum": 0},
				"daily_trade_count": {"type": "integer", "minimum": 0},
				"daily_pnl": {"type": "number"}
			}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func decideSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("decide.json", strings.NewReader(decideRequestSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("decide.json")
	})
	return compiledSchema, schemaErr
}

// ValidateDecideRequest checks a raw decide request body before it is bound
// to typed structs. Returns nil when the body is safe to decode.
func ValidateDecideRequest(raw []byte) error {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("request body is empty")
	}
	if !gjson.Valid(body) {
		return fmt.Errorf("request body is not valid json")
	}
	parsed := gjson.Parse(body)
	if !parsed.IsObject() {
		return fmt.Errorf("request body must be a json object")
	}
	if strings.TrimSpace(parsed.Get("signal_id").String()) == "" {
		return fmt.Errorf("signal_id is required")
	}
	if settings := parsed.Get("settings"); !settings.Exists() || !settings.IsObject() {
		return fmt.Errorf("settings must be an object")
	}
	if account := parsed.Get("account"); account.Exists() && !account.IsObject() {
		return fmt.Errorf("account must be an object")
	}

	schema, err := decideSchema()
	if err != nil {
		return fmt.Errorf("decide schema unavailable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("decide request rejected: %w", err)
	}
	return nil
}
