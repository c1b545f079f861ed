package templates

import (
	"time"

	"relayd/internal/domain"
)

// seedTemplates are the built-in exemplars covering the common automation
// shapes: polling, webhooks, scheduled reports, branching, and spreadsheet
// round-trips. Directory and store entries layer on top of these.
func seedTemplates() []domain.ExemplarTemplate {
	seedTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []domain.ExemplarTemplate{
		{
			ID:      "schedule_http",
			Tags:    []string{"schedule", "daily", "hourly", "cron", "every", "http", "api", "fetch", "poll", "monitor"},
			AddedAt: seedTime,
			Workflow: domain.Workflow{
				Name: "Schedule + HTTP Request",
				Nodes: []domain.WorkflowNode{
					{
						ID:          "schedule-1",
						Name:        "Schedule Trigger",
						Type:        "n8n-nodes-base.scheduleTrigger",
						TypeVersion: 1,
						Position:    [2]int{250, 300},
						Parameters: map[string]any{
							"rule": map[string]any{
								"interval": []any{
									map[string]any{"field": "hours", "hoursInterval": 1},
								},
							},
						},
					},
					{
						ID:          "http-1",
						Name:        "HTTP Request",
						Type:        "n8n-nodes-base.httpRequest",
						TypeVersion: 4,
						Position:    [2]int{450, 300},
						Parameters: map[string]any{
							"method":         "GET",
							"url":            "https://api.example.com/data",
							"authentication": "none",
							"options":        map[string]any{},
						},
					},
				},
				Connections: map[string]domain.NodeConnections{
					"Schedule Trigger": {Main: [][]domain.Connection{
						{{Node: "HTTP Request", Type: "main", Index: 0}},
					}},
				},
			},
		},
		{
			ID:      "webhook",
			Tags:    []string{"webhook", "endpoint", "receive", "listen", "respond", "incoming"},
			AddedAt: seedTime,
			Workflow: domain.Workflow{
				Name: "Webhook Handler",
				Nodes: []domain.WorkflowNode{
					{
						ID:          "webhook-1",
						Name:        "Webhook",
						Type:        "n8n-nodes-base.webhook",
						TypeVersion: 1,
						Position:    [2]int{250, 300},
						Parameters: map[string]any{
							"path":         "my-webhook",
							"responseMode": "lastNode",
							"options":      map[string]any{},
						},
					},
					{
						ID:          "code-1",
						Name:        "Process Data",
						Type:        "n8n-nodes-base.code",
						TypeVersion: 2,
						Position:    [2]int{450, 300},
						Parameters: map[string]any{
							"jsCode": "// Process incoming webhook data\nreturn items;",
						},
					},
					{
						ID:          "respond-1",
						Name:        "Respond to Webhook",
						Type:        "n8n-nodes-base.respondToWebhook",
						TypeVersion: 1,
						Position:    [2]int{650, 300},
						Parameters:  map[string]any{"options": map[string]any{}},
					},
				},
				Connections: map[string]domain.NodeConnections{
					"Webhook": {Main: [][]domain.Connection{
						{{Node: "Process Data", Type: "main", Index: 0}},
					}},
					"Process Data": {Main: [][]domain.Connection{
						{{Node: "Respond to Webhook", Type: "main", Index: 0}},
					}},
				},
			},
		},
		{
			ID:      "schedule_db_email",
			Tags:    []string{"schedule", "daily", "cron", "database", "query", "postgres", "email", "send", "notify", "report"},
			AddedAt: seedTime,
			Workflow: domain.Workflow{
				Name: "Database Report Email",
				Nodes: []domain.WorkflowNode{
					{
						ID:          "schedule-1",
						Name:        "Daily at 9 AM",
						Type:        "n8n-nodes-base.scheduleTrigger",
						TypeVersion: 1,
						Position:    [2]int{250, 300},
						Parameters: map[string]any{
							"rule": map[string]any{
								"interval": []any{
									map[string]any{"field": "cronExpression", "expression": "0 9 * * *"},
								},
							},
						},
					},
					{
						ID:          "postgres-1",
						Name:        "Query Database",
						Type:        "n8n-nodes-base.postgres",
						TypeVersion: 2,
						Position:    [2]int{450, 300},
						Parameters: map[string]any{
							"operation": "executeQuery",
							"query":     "SELECT * FROM users WHERE created_at > NOW() - INTERVAL '24 hours'",
						},
						Credentials: map[string]any{
							"postgres": map[string]any{
								"id":   "CREDENTIAL_ID_PLACEHOLDER",
								"name": "PostgreSQL account",
							},
						},
					},
					{
						ID:          "email-1",
						Name:        "Send Email",
						Type:        "n8n-nodes-base.emailSend",
						TypeVersion: 2,
						Position:    [2]int{650, 300},
						Parameters: map[string]any{
							"fromEmail":   "reports@company.com",
							"toEmail":     "team@company.com",
							"subject":     "Daily User Report",
							"emailFormat": "html",
							"message":     "={{$json.body}}",
						},
						Credentials: map[string]any{
							"smtp": map[string]any{
								"id":   "CREDENTIAL_ID_PLACEHOLDER",
								"name": "SMTP account",
							},
						},
					},
				},
				Connections: map[string]domain.NodeConnections{
					"Daily at 9 AM": {Main: [][]domain.Connection{
						{{Node: "Query Database", Type: "main", Index: 0}},
					}},
					"Query Database": {Main: [][]domain.Connection{
						{{Node: "Send Email", Type: "main", Index: 0}},
					}},
				},
			},
		},
		{
			ID:      "conditional",
			Tags:    []string{"if", "condition", "check", "when", "branch", "status", "route"},
			AddedAt: seedTime,
			Workflow: domain.Workflow{
				Name: "Conditional Processing",
				Nodes: []domain.WorkflowNode{
					{
						ID:          "http-1",
						Name:        "Fetch Data",
						Type:        "n8n-nodes-base.httpRequest",
						TypeVersion: 4,
						Position:    [2]int{250, 300},
						Parameters: map[string]any{
							"method": "GET",
							"url":    "https://api.example.com/status",
						},
					},
					{
						ID:          "if-1",
						Name:        "Check Status",
						Type:        "n8n-nodes-base.if",
						TypeVersion: 2,
						Position:    [2]int{450, 300},
						Parameters: map[string]any{
							"conditions": map[string]any{
								"string": []any{
									map[string]any{
										"value1":    "={{$json.status}}",
										"operation": "equals",
										"value2":    "success",
									},
								},
							},
						},
					},
					{
						ID:          "action-success",
						Name:        "Success Action",
						Type:        "n8n-nodes-base.noOp",
						TypeVersion: 1,
						Position:    [2]int{650, 200},
					},
					{
						ID:          "action-fail",
						Name:        "Failure Action",
						Type:        "n8n-nodes-base.noOp",
						TypeVersion: 1,
						Position:    [2]int{650, 400},
					},
				},
				Connections: map[string]domain.NodeConnections{
					"Fetch Data": {Main: [][]domain.Connection{
						{{Node: "Check Status", Type: "main", Index: 0}},
					}},
					"Check Status": {Main: [][]domain.Connection{
						{{Node: "Success Action", Type: "main", Index: 0}},
						{{Node: "Failure Action", Type: "main", Index: 0}},
					}},
				},
			},
		},
		{
			ID:      "google_sheets",
			Tags:    []string{"google", "sheets", "spreadsheet", "excel", "rows", "update", "read"},
			AddedAt: seedTime,
			Workflow: domain.Workflow{
				Name: "Google Sheets Automation",
				Nodes: []domain.WorkflowNode{
					{
						ID:          "sheets-read",
						Name:        "Read Sheet",
						Type:        "n8n-nodes-base.googleSheets",
						TypeVersion: 4,
						Position:    [2]int{250, 300},
						Parameters: map[string]any{
							"operation": "read",
							"sheetName": "Sheet1",
							"options":   map[string]any{},
						},
						Credentials: map[string]any{
							"googleSheetsOAuth2Api": map[string]any{
								"id":   "CREDENTIAL_ID_PLACEHOLDER",
								"name": "Google Sheets account",
							},
						},
					},
					{
						ID:          "code-1",
						Name:        "Process Rows",
						Type:        "n8n-nodes-base.code",
						TypeVersion: 2,
						Position:    [2]int{450, 300},
						Parameters: map[string]any{
							"jsCode": "// Process each row\nfor (const item of items) {\n  item.json.processed = true;\n}\nreturn items;",
						},
					},
					{
						ID:          "sheets-write",
						Name:        "Update Sheet",
						Type:        "n8n-nodes-base.googleSheets",
						TypeVersion: 4,
						Position:    [2]int{650, 300},
						Parameters: map[string]any{
							"operation": "update",
							"sheetName": "Sheet1",
							"options":   map[string]any{},
						},
						Credentials: map[string]any{
							"googleSheetsOAuth2Api": map[string]any{
								"id":   "CREDENTIAL_ID_PLACEHOLDER",
								"name": "Google Sheets account",
							},
						},
					},
				},
				Connections: map[string]domain.NodeConnections{
					"Read Sheet": {Main: [][]domain.Connection{
						{{Node: "Process Rows", Type: "main", Index: 0}},
					}},
					"Process Rows": {Main: [][]domain.Connection{
						{{Node: "Update Sheet", Type: "main", Index: 0}},
					}},
				},
			},
		},
	}
}
