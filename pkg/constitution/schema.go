package constitution

// documentSchema is the structural JSON Schema every constitution document
// must satisfy before cross-reference validation runs. Fine-grained doctrine
// checks (halt-on-ambiguity, positive timing budgets, valid escalation
// targets) are done in Go so validate can report every violation at once.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": [
    "meta", "authority_ladder", "signal_schema", "routing_grammar",
    "legality_constraints", "failure_semantics", "timing_contracts",
    "audit_requirements", "archetypes"
  ],
  "properties": {
    "meta": {"type": "object"},
    "authority_ladder": {
      "type": "object",
      "required": ["levels", "escalation_rules", "invariants"],
      "properties": {
        "levels": {"type": "array", "items": {"type": "string"}},
        "escalation_rules": {
          "type": "object",
          "additionalProperties": {"type": "string"}
        },
        "invariants": {"type": "array", "items": {"type": "string"}}
      }
    },
    "signal_schema": {
      "type": "object",
      "required": ["required_fields", "valid_types", "valid_domains", "valid_authorities"],
      "properties": {
        "required_fields": {"type": "array", "items": {"type": "string"}},
        "valid_types": {"type": "array", "items": {"type": "string"}},
        "valid_domains": {"type": "array", "items": {"type": "string"}},
        "valid_authorities": {"type": "array", "items": {"type": "string"}}
      }
    },
    "routing_grammar": {
      "type": "object",
      "required": ["rules", "default_on_ambiguity", "fallback_on_failure"],
      "properties": {
        "rules": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["condition", "target"],
            "properties": {
              "condition": {"type": "string"},
              "target": {"type": "string"}
            }
          }
        },
        "default_on_ambiguity": {"type": "string"},
        "fallback_on_failure": {"type": "string"}
      }
    },
    "legality_constraints": {
      "type": "object",
      "required": ["forbidden_states"],
      "properties": {
        "forbidden_states": {"type": "array", "items": {"type": "string"}}
      }
    },
    "failure_semantics": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["action", "recovery"],
        "properties": {
          "action": {"type": "string"},
          "recovery": {"type": "string"}
        }
      }
    },
    "timing_contracts": {
      "type": "object",
      "additionalProperties": {"type": "number"}
    },
    "audit_requirements": {
      "type": "object",
      "required": ["format", "integrity", "minimum_record"],
      "properties": {
        "format": {"type": "string"},
        "integrity": {"type": "string"},
        "minimum_record": {"type": "array", "items": {"type": "string"}}
      }
    },
    "archetypes": {
      "type": "object",
      "additionalProperties": {"type": "object"}
    }
  }
}`
