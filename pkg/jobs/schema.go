package jobs

// FileSchema is the JSON Schema every job file must satisfy
const FileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["jobs"],
  "additionalProperties": false,
  "properties": {
    "jobs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "command"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "lane": {"type": "string", "not": {"const": "*"}},
          "command": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string"}
          },
          "dir": {"type": "string"},
          "env": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          },
          "timeout": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h)([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))*$"},
          "schedule": {"type": "string"}
        }
      }
    }
  }
}`
