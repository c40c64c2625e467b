package http

// Request-body schemas. Validation runs before decoding so malformed shapes
// surface as structured field errors, not decode failures.

var ratingSchema = []byte(`{
	"type": "object",
	"required": ["rateeId", "rateeType", "value"],
	"additionalProperties": false,
	"properties": {
		"rateeId":   {"type": "string", "minLength": 1},
		"rateeType": {"type": "string", "enum": ["job", "coordinator", "company", "applicant"]},
		"context":   {"type": "string", "enum": ["job_post", "team_page", "default"]},
		"jobId":     {"type": "string"},
		"value":     {"type": "integer", "minimum": 1, "maximum": 5},
		"review":    {"type": "string", "maxLength": 2000}
	}
}`)

var interviewSchema = []byte(`{
	"type": "object",
	"required": ["date", "mode"],
	"additionalProperties": false,
	"properties": {
		"date":     {"type": "string", "format": "date-time"},
		"mode":     {"type": "string", "enum": ["onsite", "online"]},
		"location": {"type": "string"},
		"link":     {"type": "string"},
		"notes":    {"type": "string", "maxLength": 2000}
	}
}`)

var invitationSchema = []byte(`{
	"type": "object",
	"required": ["targetEmail"],
	"additionalProperties": false,
	"properties": {
		"targetEmail": {"type": "string", "format": "email"},
		"message":     {"type": "string", "maxLength": 2000}
	}
}`)
