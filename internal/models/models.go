package models

// All enumerates every persisted model for migration.
var All = []interface{}{
	&Repository{},
	&Pipeline{},
	&Execution{},
	&ExecutionStep{},
}
