package conversion

import "strings"

// 上游不支持的JSON Schema关键字，递归剥离
var unsupportedSchemaKeys = map[string]bool{
	"$schema":              true,
	"$id":                  true,
	"$ref":                 true,
	"$defs":                true,
	"definitions":          true,
	"additionalProperties": true,
	"unevaluatedProperties": true,
	"patternProperties":    true,
	"format":               true,
	"default":              true,
	"examples":             true,
	"const":                true,
	"minLength":            true,
	"maxLength":            true,
	"pattern":              true,
	"minimum":              true,
	"maximum":              true,
	"exclusiveMinimum":     true,
	"exclusiveMaximum":     true,
	"multipleOf":           true,
	"minItems":             true,
	"maxItems":             true,
	"uniqueItems":          true,
	"minProperties":        true,
	"maxProperties":        true,
	"if":                   true,
	"then":                 true,
	"else":                 true,
	"not":                  true,
	"contentEncoding":      true,
	"contentMediaType":     true,
}

// CleanJSONSchema 清洗客户端工具参数schema使其满足上游约束：
// 剥离不支持的关键字，type大写化，联合类型取首个非null成员。
// 纯树变换，幂等，不改动受支持字段和字段名
func CleanJSONSchema(schema map[string]interface{}) {
	if schema == nil {
		return
	}

	for key := range schema {
		if unsupportedSchemaKeys[key] {
			delete(schema, key)
		}
	}

	// type归一：["string","null"]取"STRING"，普通字符串大写
	if t, ok := schema["type"]; ok {
		switch v := t.(type) {
		case string:
			schema["type"] = strings.ToUpper(v)
		case []interface{}:
			picked := ""
			for _, member := range v {
				s, ok := member.(string)
				if !ok || s == "null" {
					continue
				}
				picked = strings.ToUpper(s)
				break
			}
			if picked == "" {
				picked = "STRING"
			}
			schema["type"] = picked
		}
	}

	// 递归子schema
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, sub := range props {
			if subSchema, ok := sub.(map[string]interface{}); ok {
				CleanJSONSchema(subSchema)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		CleanJSONSchema(items)
	} else if items, ok := schema["items"].([]interface{}); ok {
		for _, sub := range items {
			if subSchema, ok := sub.(map[string]interface{}); ok {
				CleanJSONSchema(subSchema)
			}
		}
	}
	for _, combinator := range []string{"anyOf", "oneOf", "allOf"} {
		if members, ok := schema[combinator].([]interface{}); ok {
			for _, sub := range members {
				if subSchema, ok := sub.(map[string]interface{}); ok {
					CleanJSONSchema(subSchema)
				}
			}
		}
	}
}
