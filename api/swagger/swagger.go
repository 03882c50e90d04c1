package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Student Records API",
        "description": "Student record management: enrollment lifecycle, soft delete, search, statistics and roster export.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Students",
            "description": "Student record lifecycle"
        }
    ],
    "paths": {
        "/students": {
            "get": {
                "tags": [
                    "Students"
                ],
                "summary": "List students",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "enrollment_status",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "grade_level",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "gender",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "search",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "sort_by",
                        "in": "query",
                        "type": "string",
                        "description": "created_at, updated_at, full_name, student_number, email, grade_level, enrollment_status"
                    },
                    {
                        "name": "order",
                        "in": "query",
                        "type": "string",
                        "description": "asc or desc"
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer",
                        "description": "max 100"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            },
            "post": {
                "tags": [
                    "Students"
                ],
                "summary": "Create student",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StudentFields"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            }
        },
        "/students/export": {
            "get": {
                "tags": [
                    "Students"
                ],
                "summary": "Export student roster",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "description": "csv or pdf"
                    },
                    {
                        "name": "enrollment_status",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "grade_level",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "gender",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "search",
                        "in": "query",
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File download",
                        "schema": {
                            "type": "file"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                },
                "produces": [
                    "text/csv",
                    "application/pdf"
                ]
            }
        },
        "/students/stats/summary": {
            "get": {
                "tags": [
                    "Students"
                ],
                "summary": "Student statistics",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            }
        },
        "/students/search/all": {
            "get": {
                "tags": [
                    "Students"
                ],
                "summary": "Search students",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "q",
                        "in": "query",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer",
                        "description": "max 50"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            }
        },
        "/students/number/{number}": {
            "get": {
                "tags": [
                    "Students"
                ],
                "summary": "Get student by student number",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "number",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": [
                    "Students"
                ],
                "summary": "Get student",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            },
            "put": {
                "tags": [
                    "Students"
                ],
                "summary": "Update student",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StudentFields"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            },
            "patch": {
                "tags": [
                    "Students"
                ],
                "summary": "Partially update student",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StudentFields"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Students"
                ],
                "summary": "Soft delete student",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            }
        },
        "/students/{id}/status": {
            "patch": {
                "tags": [
                    "Students"
                ],
                "summary": "Change enrollment status",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StatusUpdateRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Bad request",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            }
        },
        "/students/{id}/restore": {
            "post": {
                "tags": [
                    "Students"
                ],
                "summary": "Restore soft-deleted student",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    },
                    "500": {
                        "description": "Store failure",
                        "schema": {
                            "$ref": "#/definitions/ErrorEnvelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "StudentFields": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "full_name": {
                    "type": "string"
                },
                "student_number": {
                    "type": "string"
                },
                "email": {
                    "type": "string"
                },
                "phone": {
                    "type": "string",
                    "x-nullable": true
                },
                "birth_date": {
                    "type": "string",
                    "x-nullable": true
                },
                "gender": {
                    "type": "string",
                    "enum": [
                        "Male",
                        "Female"
                    ]
                },
                "enrollment_status": {
                    "type": "string",
                    "enum": [
                        "pending",
                        "active",
                        "suspended",
                        "graduated",
                        "withdrawn"
                    ]
                },
                "grade_level": {
                    "type": "string",
                    "x-nullable": true
                },
                "subjects": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "home_address": {
                    "type": "string",
                    "x-nullable": true
                },
                "parent_name": {
                    "type": "string",
                    "x-nullable": true
                },
                "parent_phone": {
                    "type": "string",
                    "x-nullable": true
                },
                "notes": {
                    "type": "string",
                    "x-nullable": true
                }
            }
        },
        "StatusUpdateRequest": {
            "type": "object",
            "required": [
                "enrollment_status"
            ],
            "properties": {
                "enrollment_status": {
                    "type": "string",
                    "enum": [
                        "pending",
                        "active",
                        "suspended",
                        "graduated",
                        "withdrawn"
                    ]
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "limit": {
                    "type": "integer"
                },
                "total": {
                    "type": "integer"
                },
                "totalPages": {
                    "type": "integer"
                },
                "hasNextPage": {
                    "type": "boolean"
                },
                "hasPrevPage": {
                    "type": "boolean"
                }
            }
        },
        "Envelope": {
            "type": "object",
            "properties": {
                "success": {
                    "type": "boolean"
                },
                "data": {
                    "type": "object"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "filters": {
                    "type": "object"
                },
                "count": {
                    "type": "integer"
                },
                "meta": {
                    "type": "object"
                }
            }
        },
        "ErrorEnvelope": {
            "type": "object",
            "properties": {
                "success": {
                    "type": "boolean"
                },
                "error": {
                    "type": "string"
                },
                "code": {
                    "type": "string"
                },
                "details": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
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
