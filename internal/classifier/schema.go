package classifier

import "github.com/santhosh-tekuri/jsonschema/v5"

const intentOrderAction = "order_action"

const verdictSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["intent", "action", "order_ids", "confidence", "reply"],
  "properties": {
    "intent": {
      "type": "string",
      "enum": ["order_action", "balance", "spent", "balance_and_spent", "logout", "help",
               "site", "services", "terms", "refund_policy", "general"]
    },
    "action": {
      "type": ["string", "null"],
      "enum": ["cancel", "speed", "refill", null]
    },
    "order_ids": {
      "type": "array",
      "maxItems": 50,
      "items": {"type": "string", "pattern": "^[0-9]{4,}$"}
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reply": {"type": ["string", "null"], "maxLength": 1000}
  }
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON)
