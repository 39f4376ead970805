package utils

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/q-controller/imgvault/src/pkg/images"
	"gopkg.in/yaml.v3"
)

const (
	Tag        = "ImageService"
	PathPrefix = "/v1/images"
)

//go:embed docs/openapi.yaml
var openAPISpecs string

func GenerateOpenAPISpecs() (string, error) {
	var spec map[string]interface{}
	if err := yaml.Unmarshal([]byte(openAPISpecs), &spec); err != nil {
		return "", fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}

	existingTags, _ := spec["tags"].([]interface{})
	found := false
	for _, t := range existingTags {
		if entry, ok := t.(map[string]interface{}); ok && entry["name"] == Tag {
			found = true
			break
		}
	}
	if !found {
		spec["tags"] = append(existingTags, map[string]interface{}{"name": Tag})
	}

	paths, ok := spec["paths"].(map[string]interface{})
	if !ok {
		paths = map[string]interface{}{}
		spec["paths"] = paths
	}
	var imagesSpec map[string]interface{}
	if unmarshalErr := yaml.Unmarshal([]byte(images.GetOpenAPISpec(PathPrefix, Tag)), &imagesSpec); unmarshalErr == nil {
		for k, v := range imagesSpec {
			paths[k] = v
		}
	} else {
		slog.Warn("Failed to unmarshal images OpenAPI spec", "error", unmarshalErr)
	}

	components, ok := spec["components"].(map[string]interface{})
	if !ok {
		components = map[string]interface{}{}
		spec["components"] = components
	}
	var imagesComponents map[string]interface{}
	if unmarshalErr := yaml.Unmarshal([]byte(images.GetOpenAPIComponents()), &imagesComponents); unmarshalErr == nil {
		for section, entries := range imagesComponents {
			merged, ok := components[section].(map[string]interface{})
			if !ok {
				merged = map[string]interface{}{}
				components[section] = merged
			}
			if values, ok := entries.(map[string]interface{}); ok {
				for name, value := range values {
					merged[name] = value
				}
			}
		}
	} else {
		slog.Warn("Failed to unmarshal images OpenAPI components", "error", unmarshalErr)
	}

	bytes, bytesErr := yaml.Marshal(spec)
	if bytesErr != nil {
		return "", fmt.Errorf("failed to marshal OpenAPI spec: %w", bytesErr)
	}
	return string(bytes), nil
}
