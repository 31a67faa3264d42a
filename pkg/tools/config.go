package tools

import (
	"reflect"
)

func LoadConfig(filename string, v interface{}) error {
	if err := UnmarshalFileYaml(filename, v); err != nil {
		return err
	}

	DoTagFunc(v, []func(reflect.StructField, reflect.Value){SetDefaultValueIfNil})
	return nil
}
