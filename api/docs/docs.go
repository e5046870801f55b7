// Package docs Swagger 文档，修改处理器注释后执行 swag init -g cmd/server/main.go -o api/docs 重新生成
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
	"schemes": {{ marshal .Schemes }},
	"swagger": "2.0",
	"info": {
		"description": "{{escape .Description}}",
		"title": "{{.Title}}",
		"contact": {},
		"version": "{{.Version}}"
	},
	"host": "{{.Host}}",
	"basePath": "{{.BasePath}}",
	"paths": {
		"/api/v1/auth/logout": {
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"description": "将当前访问令牌加入黑名单直到其过期；remote 会话模式下由身份提供方负责吊销",
				"produces": [
					"application/json"
				],
				"tags": [
					"Auth"
				],
				"summary": "登出",
				"responses": {
					"200": {
						"description": "登出成功",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					},
					"401": {
						"description": "未认证",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/agents": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Agents"
				],
				"summary": "查询 Agent 列表",
				"parameters": [
					{
						"type": "integer",
						"description": "页码",
						"name": "page",
						"in": "query"
					},
					{
						"type": "integer",
						"description": "每页数量",
						"name": "page_size",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/common.ListResponse"
										}
									}
								}
							]
						}
					},
					"401": {
						"description": "Unauthorized",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			},
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Agents"
				],
				"summary": "创建 Agent",
				"parameters": [
					{
						"description": "Agent 配置",
						"name": "request",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/agent.CreateAgentRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/agent.AgentConfig"
										}
									}
								}
							]
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/agents/{id}": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Agents"
				],
				"summary": "查询 Agent 配置详情",
				"parameters": [
					{
						"type": "string",
						"description": "Agent ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/agent.AgentConfig"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			},
			"put": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Agents"
				],
				"summary": "更新 Agent",
				"parameters": [
					{
						"type": "string",
						"description": "Agent ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "需要修改的字段",
						"name": "request",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/agent.UpdateAgentRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/agent.AgentConfig"
										}
									}
								}
							]
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			},
			"delete": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Agents"
				],
				"summary": "删除 Agent",
				"parameters": [
					{
						"type": "string",
						"description": "Agent ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/agents/{id}/publish": {
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Agents"
				],
				"summary": "发布 Agent",
				"parameters": [
					{
						"type": "string",
						"description": "Agent ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/agent.AgentConfig"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/agents/{id}/unpublish": {
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Agents"
				],
				"summary": "取消发布 Agent",
				"parameters": [
					{
						"type": "string",
						"description": "Agent ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/agent.AgentConfig"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/api-keys": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"APIKeys"
				],
				"summary": "查询 API Key 列表",
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"type": "array",
											"items": {
												"$ref": "#/definitions/auth.APIKey"
											}
										}
									}
								}
							]
						}
					}
				}
			},
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"APIKeys"
				],
				"summary": "签发 API Key",
				"parameters": [
					{
						"description": "Key 名称",
						"name": "request",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/apikey.CreateAPIKeyRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/auth.IssuedAPIKey"
										}
									}
								}
							]
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/api-keys/{id}/revoke": {
			"post": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"APIKeys"
				],
				"summary": "撤销 API Key",
				"parameters": [
					{
						"type": "string",
						"description": "API Key ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/credits": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Credits"
				],
				"summary": "查询积分余额",
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/credits.CreditBalance"
										}
									}
								}
							]
						}
					},
					"401": {
						"description": "Unauthorized",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/api/v1/usage": {
			"get": {
				"security": [
					{
						"BearerAuth": []
					}
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Credits"
				],
				"summary": "查询用量日志",
				"parameters": [
					{
						"type": "integer",
						"description": "页码",
						"name": "page",
						"in": "query"
					},
					{
						"type": "integer",
						"description": "每页数量",
						"name": "page_size",
						"in": "query"
					},
					{
						"enum": [
							"agent_chat",
							"agent_runtime"
						],
						"type": "string",
						"description": "操作类型",
						"name": "operation",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/common.APIResponse"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/common.ListResponse"
										}
									}
								}
							]
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/common.APIResponse"
						}
					}
				}
			}
		},
		"/functions/v1/agent-chat": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"text/event-stream"
				],
				"tags": [
					"Functions"
				],
				"summary": "Agent 预览对话（SSE）",
				"parameters": [
					{
						"description": "对话消息与可选的 agentConfig",
						"name": "request",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/chat.AgentChatRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "上游 SSE 流",
						"schema": {
							"type": "string"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"402": {
						"description": "Payment Required",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"429": {
						"description": "Too Many Requests",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"500": {
						"description": "Internal Server Error",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					}
				}
			}
		},
		"/functions/v1/agent-runtime": {
			"post": {
				"security": [
					{
						"APIKeyAuth": []
					}
				],
				"consumes": [
					"application/json"
				],
				"produces": [
					"text/event-stream"
				],
				"tags": [
					"Functions"
				],
				"summary": "已发布 Agent 运行时对话（SSE）",
				"parameters": [
					{
						"description": "对话消息与 agentId",
						"name": "request",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/chat.AgentRuntimeRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "上游 SSE 流",
						"schema": {
							"type": "string"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"401": {
						"description": "Unauthorized",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"402": {
						"description": "Payment Required",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"429": {
						"description": "Too Many Requests",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					},
					"500": {
						"description": "Internal Server Error",
						"schema": {
							"$ref": "#/definitions/chat.ErrorResponse"
						}
					}
				}
			}
		}
	},
	"definitions": {
		"agent.AgentConfig": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"userId": {
					"type": "string"
				},
				"name": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"systemPrompt": {
					"type": "string"
				},
				"model": {
					"type": "string"
				},
				"temperature": {
					"type": "number"
				},
				"maxTokens": {
					"type": "integer"
				},
				"isPublished": {
					"type": "boolean"
				},
				"createdAt": {
					"type": "string"
				},
				"updatedAt": {
					"type": "string"
				}
			}
		},
		"agent.CreateAgentRequest": {
			"type": "object",
			"required": [
				"name"
			],
			"properties": {
				"name": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"systemPrompt": {
					"type": "string"
				},
				"model": {
					"type": "string"
				},
				"temperature": {
					"type": "number",
					"maximum": 2,
					"minimum": 0
				},
				"maxTokens": {
					"type": "integer"
				}
			}
		},
		"agent.UpdateAgentRequest": {
			"type": "object",
			"properties": {
				"name": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"systemPrompt": {
					"type": "string"
				},
				"model": {
					"type": "string"
				},
				"temperature": {
					"type": "number",
					"maximum": 2,
					"minimum": 0
				},
				"maxTokens": {
					"type": "integer"
				}
			}
		},
		"agent.Overrides": {
			"type": "object",
			"properties": {
				"systemPrompt": {
					"type": "string"
				},
				"model": {
					"type": "string"
				},
				"temperature": {
					"type": "number",
					"maximum": 2,
					"minimum": 0
				},
				"maxTokens": {
					"type": "integer"
				}
			}
		},
		"apikey.CreateAPIKeyRequest": {
			"type": "object",
			"required": [
				"name"
			],
			"properties": {
				"name": {
					"type": "string",
					"maxLength": 100
				}
			}
		},
		"auth.APIKey": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"userId": {
					"type": "string"
				},
				"name": {
					"type": "string"
				},
				"keyPrefix": {
					"type": "string"
				},
				"isActive": {
					"type": "boolean"
				},
				"lastUsedAt": {
					"type": "string"
				},
				"revokedAt": {
					"type": "string"
				},
				"createdAt": {
					"type": "string"
				}
			}
		},
		"auth.IssuedAPIKey": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"name": {
					"type": "string"
				},
				"key": {
					"type": "string"
				},
				"keyPrefix": {
					"type": "string"
				},
				"createdAt": {
					"type": "string"
				}
			}
		},
		"credits.CreditBalance": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"userId": {
					"type": "string"
				},
				"planType": {
					"type": "string"
				},
				"creditsRemaining": {
					"type": "integer"
				},
				"creditsUsedThisMonth": {
					"type": "integer"
				},
				"periodStart": {
					"type": "string"
				},
				"createdAt": {
					"type": "string"
				},
				"updatedAt": {
					"type": "string"
				}
			}
		},
		"aiinterface.Message": {
			"type": "object",
			"properties": {
				"role": {
					"type": "string",
					"enum": [
						"system",
						"user",
						"assistant"
					]
				},
				"content": {
					"description": "字符串或分片数组"
				}
			}
		},
		"chat.AgentChatRequest": {
			"type": "object",
			"required": [
				"messages"
			],
			"properties": {
				"messages": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/aiinterface.Message"
					}
				},
				"agentConfig": {
					"$ref": "#/definitions/agent.Overrides"
				}
			}
		},
		"chat.AgentRuntimeRequest": {
			"type": "object",
			"required": [
				"agentId",
				"messages"
			],
			"properties": {
				"agentId": {
					"type": "string"
				},
				"messages": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/aiinterface.Message"
					}
				}
			}
		},
		"chat.ErrorResponse": {
			"type": "object",
			"properties": {
				"error": {
					"type": "string"
				}
			}
		},
		"common.APIResponse": {
			"type": "object",
			"properties": {
				"success": {
					"type": "boolean"
				},
				"message": {
					"type": "string"
				},
				"data": {}
			}
		},
		"common.ListResponse": {
			"type": "object",
			"properties": {
				"items": {},
				"pagination": {
					"$ref": "#/definitions/common.PaginationMeta"
				}
			}
		},
		"common.PaginationMeta": {
			"type": "object",
			"properties": {
				"page": {
					"type": "integer"
				},
				"page_size": {
					"type": "integer"
				},
				"total": {
					"type": "integer"
				},
				"total_pages": {
					"type": "integer"
				}
			}
		}
	},
	"securityDefinitions": {
		"APIKeyAuth": {
			"type": "apiKey",
			"name": "x-api-key",
			"in": "header"
		},
		"BearerAuth": {
			"type": "apiKey",
			"name": "Authorization",
			"in": "header"
		}
	}
}`

// SwaggerInfo 文档元信息，部署时可覆盖 Host 与 Schemes
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Jeesi API",
	Description:      "按积分计费的 AI 对话网关：Agent 预览与运行时对话、API Key、积分与用量",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
