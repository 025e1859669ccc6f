package rulebook

const schemaURL = "https://valor.schemas.local/rulebook.schema.json"

// documentSchema is the JSON Schema every rulebook document must satisfy
// before it is built.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "headers", "skills"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "origins": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name", "category"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "name": {"type": "string", "minLength": 1},
          "category": {"enum": ["BACKGROUND", "RACE"]},
          "description": {"type": "string"},
          "grants": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["kind", "target"],
              "additionalProperties": false,
              "properties": {
                "kind": {"enum": ["header", "skill"]},
                "target": {"type": "string", "minLength": 1},
                "header": {"type": "string"}
              }
            }
          }
        }
      }
    },
    "headers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "name": {"type": "string", "minLength": 1},
          "category": {"type": "string"},
          "hidden": {"type": "boolean"},
          "description": {"type": "string"},
          "skills": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["skill", "cost"],
              "additionalProperties": false,
              "properties": {
                "skill": {"type": "string", "minLength": 1},
                "cost": {"type": "integer", "minimum": 0},
                "max_purchases": {"type": "integer", "minimum": 0}
              }
            }
          }
        }
      }
    },
    "skills": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"}
        }
      }
    },
    "prerequisites": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "target"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "target": {
            "type": "object",
            "additionalProperties": false,
            "minProperties": 1,
            "maxProperties": 1,
            "properties": {
              "header": {"type": "string"},
              "skill": {"type": "string"}
            }
          },
          "description": {"type": "string"},
          "origin": {"type": "string"},
          "header": {"type": "string"},
          "skill": {"type": "string"},
          "number_of_different_skills": {"type": "integer", "minimum": 0},
          "number_of_purchases": {"type": "integer", "minimum": 0},
          "points": {"type": "integer", "minimum": 0},
          "expression": {"type": "string"}
        }
      }
    }
  }
}`
