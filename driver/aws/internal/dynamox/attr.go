package dynamox

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttrAs fetches an attribute of type T from an item.
//
// It returns an error if the attribute is absent or a different type.
func AttrAs[T types.AttributeValue](
	item map[string]types.AttributeValue,
	name string,
) (v T, err error) {
	v, ok, err := OptionalAttrAs[T](item, name)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("item is corrupt: missing %q attribute", name)
	}
	return v, nil
}

// OptionalAttrAs fetches an attribute of type T from an item, if present.
//
// It returns an error if the attribute is present but a different type.
func OptionalAttrAs[T types.AttributeValue](
	item map[string]types.AttributeValue,
	name string,
) (v T, ok bool, err error) {
	a, ok := item[name]
	if !ok {
		return v, false, nil
	}

	v, ok = a.(T)
	if !ok {
		return v, false, fmt.Errorf(
			"item is corrupt: %q attribute should be %s not %s",
			name,
			reflect.TypeOf(v).Elem().Name(),
			reflect.TypeOf(a).Elem().Name(),
		)
	}

	return v, true, nil
}

// Uint64Attr fetches a numeric attribute from an item and parses it as an
// unsigned 64-bit integer.
func Uint64Attr(
	item map[string]types.AttributeValue,
	name string,
) (uint64, error) {
	v, err := AttrAs[*types.AttributeValueMemberN](item, name)
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("item is corrupt: %q attribute is not an unsigned integer: %w", name, err)
	}

	return n, nil
}

// Uint64 returns a numeric attribute value containing n.
func Uint64(n uint64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{
		Value: strconv.FormatUint(n, 10),
	}
}
