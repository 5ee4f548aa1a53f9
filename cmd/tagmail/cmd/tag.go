package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	tagAdd    []string
	tagRemove []string
	tagAll    bool
)

// tagOp is one tag change requested on the command line.
type tagOp struct {
	tag string
	add bool
}

func (op tagOp) String() string {
	if op.add {
		return "+" + op.tag
	}
	return "-" + op.tag
}

var tagCmd = &cobra.Command{
	Use:   "tag [+TAG...] [--] [-TAG...] <query>",
	Short: "Add or remove tags on messages matching a query",
	Long: `Add or remove tags on every message matching a query.

Leading arguments of the form +TAG add a tag and -TAG remove one; the rest
of the arguments form the query. Because -TAG looks like a flag, removals
must follow a -- separator or be given with --remove. Changes are applied
in order and each reports how many messages it changed.

An empty query would touch every message, so it must be asked for with
--all.

Examples:
  tagmail tag +todo from:alice tag:inbox
  tagmail tag +archive -- -inbox date:..2023
  tagmail tag --remove unread subject:newsletter
  tagmail tag --all +imported`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ops, q := parseTagArgs(args)
		for _, tag := range tagAdd {
			ops = append(ops, tagOp{tag: tag, add: true})
		}
		for _, tag := range tagRemove {
			ops = append(ops, tagOp{tag: tag})
		}
		if len(ops) == 0 {
			return errors.New("no tag changes given (use +TAG, -TAG, --add or --remove)")
		}
		if strings.TrimSpace(q) == "" && !tagAll {
			return errors.New("no query given (use --all to change every message)")
		}

		eng, err := openMailEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		out := cmd.OutOrStdout()
		for _, op := range ops {
			var n int
			if op.add {
				n, err = eng.ApplyTag(cmd.Context(), q, op.tag)
			} else {
				n, err = eng.RemoveTag(cmd.Context(), q, op.tag)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			fmt.Fprintf(out, "%s: %d messages changed\n", op, n)
		}
		return nil
	},
}

// parseTagArgs splits leading +TAG and -TAG arguments from the query terms
// that follow them. A term such as -tag:inbox or -(a or b) is a negated
// query term, not a removal, since tags cannot contain ':', '(' or '"'.
func parseTagArgs(args []string) ([]tagOp, string) {
	var ops []tagOp
	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		if len(a) < 2 || (a[0] != '+' && a[0] != '-') {
			break
		}
		if strings.ContainsAny(a[1:], `:()"`) {
			break
		}
		ops = append(ops, tagOp{tag: a[1:], add: a[0] == '+'})
	}
	return ops, strings.Join(args[i:], " ")
}

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.Flags().StringArrayVarP(&tagAdd, "add", "a", nil, "Tag to add (repeatable)")
	tagCmd.Flags().StringArrayVarP(&tagRemove, "remove", "r", nil, "Tag to remove (repeatable)")
	tagCmd.Flags().BoolVar(&tagAll, "all", false, "Allow an empty query matching every message")
}
