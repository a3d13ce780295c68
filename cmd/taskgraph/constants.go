package main

// Output formats.
const (
	jsonFormat = "json"
	yamlFormat = "yaml"
	textFormat = "text"
)

// Cache backends for the run command.
const (
	cacheMemory = "memory"
	cacheFile   = "file"
)
