package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Tatib API",
        "description": "Student discipline recording and escalation service",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and session management"},
        {"name": "Students", "description": "Student directory"},
        {"name": "ViolationTypes", "description": "Violation catalog and frequency rules"},
        {"name": "Violations", "description": "Violation records and discipline summaries"},
        {"name": "Coaching", "description": "Coaching recommendation rules"},
        {"name": "Cases", "description": "Follow-up cases and summon letters"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/discipline-summary": {
            "get": {
                "tags": ["Violations"],
                "summary": "Point total, recommendation and active case for one student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Student not found"}
                }
            }
        },
        "/violation-types": {
            "get": {
                "tags": ["ViolationTypes"],
                "summary": "List violation types",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["ViolationTypes"],
                "summary": "Create violation type",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ViolationTypeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/violation-types/{id}/rules": {
            "put": {
                "tags": ["ViolationTypes"],
                "summary": "Replace the frequency rule set",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"type": "array", "items": {"$ref": "#/definitions/FrequencyRuleRequest"}}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Overlapping or invalid rules"}
                }
            }
        },
        "/violations": {
            "get": {
                "tags": ["Violations"],
                "summary": "List violation records",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Violations"],
                "summary": "Record a violation batch for one student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordViolationsRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/violations/{id}": {
            "patch": {
                "tags": ["Violations"],
                "summary": "Edit a violation record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Violations"],
                "summary": "Delete a violation record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/coaching-rules": {
            "get": {
                "tags": ["Coaching"],
                "summary": "List coaching rules",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Coaching"],
                "summary": "Create coaching rule",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CoachingRuleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cases": {
            "get": {
                "tags": ["Cases"],
                "summary": "List follow-up cases",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cases/{id}/status": {
            "patch": {
                "tags": ["Cases"],
                "summary": "Move a case along the workflow",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Transition not allowed"}
                }
            }
        },
        "/cases/{id}/letter": {
            "get": {
                "tags": ["Cases"],
                "summary": "Download the summon letter as PDF",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "produces": ["application/pdf"],
                "responses": {
                    "200": {"description": "PDF document"},
                    "404": {"description": "Case has no letter"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "ViolationTypeRequest": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "name": {"type": "string"},
                "category": {"type": "string", "enum": ["RINGAN", "SEDANG", "BERAT"]},
                "points": {"type": "integer"},
                "uses_frequency_rules": {"type": "boolean"}
            },
            "required": ["code", "name", "category"]
        },
        "FrequencyRuleRequest": {
            "type": "object",
            "properties": {
                "frequency_min": {"type": "integer"},
                "frequency_max": {"type": "integer"},
                "points": {"type": "integer"},
                "sanction": {"type": "string"},
                "triggers_letter": {"type": "boolean"},
                "letter_level": {"type": "integer"},
                "supervisor_roles": {"type": "array", "items": {"type": "string"}},
                "display_order": {"type": "integer"}
            },
            "required": ["frequency_min", "sanction"]
        },
        "RecordViolationsRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "occurred_at": {"type": "string", "format": "date-time"},
                "entries": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "violation_type_id": {"type": "string"},
                            "note": {"type": "string"},
                            "evidence_ref": {"type": "string"}
                        },
                        "required": ["violation_type_id"]
                    }
                }
            },
            "required": ["student_id", "entries"]
        },
        "CoachingRuleRequest": {
            "type": "object",
            "properties": {
                "points_min": {"type": "integer"},
                "points_max": {"type": "integer"},
                "supervisor_roles": {"type": "array", "items": {"type": "string"}},
                "description": {"type": "string"},
                "display_order": {"type": "integer"}
            },
            "required": ["points_min", "description"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
