package tools

// Argument schemas for the agent-side tools. Only shape is checked here; the
// agent interprets the values.
var schemas = map[string]string{
	"tree": `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`,
	"create": `{
		"type": "object",
		"properties": {
			"className": {"type": "string"},
			"name": {"type": "string"},
			"parent": {"type": "string"},
			"luaCode": {"type": "string"},
			"source": {"type": "string"},
			"count": {"type": "number"},
			"loopVars": {"type": "object"}
		},
		"required": ["className", "name", "parent"]
	}`,
	"get": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"attributes": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["path"]
	}`,
	"modifyObject": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"luaCode": {"type": "string"},
			"source": {"type": "string"}
		},
		"required": ["path"]
	}`,
	"delete": `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`,
	"copy": `{
		"type": "object",
		"properties": {
			"sourcePath": {"type": "string"},
			"targetPath": {"type": "string"},
			"newName": {"type": "string"}
		},
		"required": ["sourcePath", "targetPath"]
	}`,
	"readLine": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"lineNumber": {"type": "number"},
			"startLine": {"type": "number"},
			"endLine": {"type": "number"}
		},
		"required": ["path"]
	}`,
	"deleteLines": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"startLine": {"type": "number"},
			"endLine": {"type": "number"}
		},
		"required": ["path", "startLine", "endLine"]
	}`,
	"insertLines": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"lineNumber": {"type": "number"},
			"lines": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["path", "lineNumber", "lines"]
	}`,
	"getScriptInfo": `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`,
	"scriptSearch": `{
		"type": "object",
		"properties": {
			"searchText": {"type": "string"},
			"caseSensitive": {"type": "boolean"},
			"maxResults": {"type": "number"}
		},
		"required": ["searchText"]
	}`,
	"scriptSearchOnly": `{
		"type": "object",
		"properties": {
			"scriptPath": {"type": "string"},
			"searchText": {"type": "string"},
			"caseSensitive": {"type": "boolean"},
			"maxResults": {"type": "number"}
		},
		"required": ["scriptPath", "searchText"]
	}`,
	"editScript": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"old_string": {"type": "string"},
			"new_string": {"type": "string"},
			"replace_all": {"type": "boolean"}
		},
		"required": ["path", "old_string", "new_string"]
	}`,
	"convertScript": `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"targetType": {"enum": ["Script", "LocalScript", "ModuleScript"]}
		},
		"required": ["path", "targetType"]
	}`,
}
