package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pior/bincache"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			item, err := client.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !item.Found {
				fmt.Printf("key=%s, found=false\n", item.Key)
				return nil
			}
			fmt.Printf("key=%s, found=true, type=%s, value=%s\n", item.Key, typeName(item.Value), formatValue(item.Value))
			return nil
		},
	}

	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(viper.GetString("type"), args[1])
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			err = client.Set(ctx, bincache.Item{
				Key:   args[0],
				Value: value,
				TTL:   viper.GetDuration("ttl"),
			})
			if err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}

	deleteCmd = &cobra.Command{
		Use:     "delete [key]",
		Aliases: []string{"del"},
		Short:   "Deletes a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			if err := client.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
)

func init() {
	setCmd.Flags().String("type", "string", wrapString("Value type (string, number, bool, null, json)"))
	setCmd.Flags().Duration("ttl", bincache.NoTTL, wrapString("Time to live, 0 for no expiration"))
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
}

// parseValue converts a command line argument to a value of the given type.
// JSON objects and arrays are stored as object values.
func parseValue(typ, arg string) (any, error) {
	switch typ {
	case "string":
		return arg, nil
	case "number":
		return strconv.ParseFloat(arg, 64)
	case "bool":
		return strconv.ParseBool(arg)
	case "null":
		return nil, nil
	case "json":
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			return nil, fmt.Errorf("invalid json value: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", typ)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return "object"
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return "<cyclic object>"
		}
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
