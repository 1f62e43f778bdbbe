package decoder

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FormatValue converts a decoded ABI value into a JSON-safe form.
// Integers wider than 32 bits become decimal strings, byte values become 0x hex,
// tuples become maps and arrays are formatted element by element.
func FormatValue(v interface{}) interface{} {
	switch value := v.(type) {
	case nil:
		return nil
	case *big.Int:
		if value == nil {
			return nil
		}
		return value.String()
	case big.Int:
		return value.String()
	case common.Address:
		return value.Hex()
	case common.Hash:
		return value.Hex()
	case []byte:
		return hexutil.Encode(value)
	case string, bool:
		return value
	case int8, int16, int32, uint8, uint16, uint32:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case int:
		return strconv.FormatInt(int64(value), 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case uint:
		return strconv.FormatUint(uint64(value), 10)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return FormatValue(rv.Elem().Interface())
	case reflect.Array, reflect.Slice:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []interface{}{}
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, rv.Len())
			for i := range buf {
				buf[i] = byte(rv.Index(i).Uint())
			}
			return hexutil.Encode(buf)
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = FormatValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		return formatStruct(rv)
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = FormatValue(iter.Value().Interface())
		}
		return out
	}
	return fmt.Sprint(v)
}

func formatStruct(rv reflect.Value) map[string]interface{} {
	rt := rv.Type()
	out := make(map[string]interface{}, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" {
			if tagName := strings.Split(tag, ",")[0]; tagName != "" && tagName != "-" {
				name = tagName
			}
		}
		out[name] = FormatValue(rv.Field(i).Interface())
	}
	return out
}
