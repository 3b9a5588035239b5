package domain

import "strings"

// ValueKind is the protocol-facing kind of a model type.
type ValueKind string

const (
	ValueString   ValueKind = "string"
	ValueInteger  ValueKind = "integer"
	ValueNumber   ValueKind = "number"
	ValueBoolean  ValueKind = "boolean"
	ValueUUID     ValueKind = "uuid"
	ValueDate     ValueKind = "date"
	ValueTime     ValueKind = "time"
	ValueDateTime ValueKind = "datetime"
)

// KindOfType maps a model type name (cds.Integer, cds.UUID, ...) to its value kind.
func KindOfType(typeName string) ValueKind {
	name := strings.TrimPrefix(typeName, "cds.")
	switch name {
	case "UUID":
		return ValueUUID
	case "Integer", "Int16", "Int32", "Int64", "UInt8", "Integer64":
		return ValueInteger
	case "Decimal", "Double", "DecimalFloat":
		return ValueNumber
	case "Boolean":
		return ValueBoolean
	case "Date":
		return ValueDate
	case "Time":
		return ValueTime
	case "DateTime", "Timestamp":
		return ValueDateTime
	default:
		return ValueString
	}
}

// JSONType returns the JSON schema type for the kind.
func (k ValueKind) JSONType() string {
	switch k {
	case ValueInteger:
		return "integer"
	case ValueNumber:
		return "number"
	case ValueBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// Format returns the JSON schema format for the kind, if any.
func (k ValueKind) Format() string {
	switch k {
	case ValueUUID:
		return "uuid"
	case ValueDate:
		return "date"
	case ValueTime:
		return "time"
	case ValueDateTime:
		return "date-time"
	default:
		return ""
	}
}
