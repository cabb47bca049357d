package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"objcore/internal/diagfmt"
	"objcore/internal/linker"
	"objcore/internal/meta"
)

var resaveCmd = &cobra.Command{
	Use:   "resave <in> <out>",
	Short: "Load a container and write it back out",
	Long: `Load a container with everything it references and save its package to a
new file, optionally converting payloads between tagged and binary mode or
cooking away editor-only data`,
	Args: cobra.ExactArgs(2),
	RunE: runResave,
}

func init() {
	resaveCmd.Flags().String("mode", "", "payload mode (tagged|binary, default: same as input)")
	resaveCmd.Flags().String("policy", "tagged", "which objects to write (tagged|reachable|all)")
	resaveCmd.Flags().Bool("cook", false, "strip editor-only objects and fields")
	resaveCmd.Flags().String("format", "pretty", "result format (pretty|json)")
}

func parseMode(s string) (meta.Mode, error) {
	switch strings.ToLower(s) {
	case "tagged":
		return meta.Tagged, nil
	case "binary":
		return meta.Binary, nil
	}
	return meta.Tagged, fmt.Errorf("unknown payload mode %q (expected tagged|binary)", s)
}

func runResave(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	modeFlag, _ := flags.GetString("mode")
	policyFlag, _ := flags.GetString("policy")
	cook, _ := flags.GetBool("cook")
	format, _ := flags.GetString("format")
	format = strings.ToLower(format)
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	policy, err := linker.ParsePolicy(policyFlag)
	if err != nil {
		return err
	}

	s, err := setup(cmd)
	if err != nil {
		return err
	}
	defer s.finish(cmd)

	e, err := s.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	pretty := diagfmt.PrettyOpts{Color: s.color, ShowNotes: true, Summary: true}
	root, bag, err := e.LoadContainer(cmd.Context(), args[0])
	if bag.Len() > 0 && !s.quiet {
		diagfmt.Pretty(cmd.ErrOrStderr(), bag, pretty)
	}
	if err != nil {
		return err
	}

	opts := linker.SaveOptions{Policy: policy, Cook: cook}
	pkg, err := e.Object(root)
	if err != nil {
		return err
	}
	if l := e.Env().Loader(e.Names().String(pkg.Name)); l != nil {
		opts.Mode = l.Mode()
		opts.PackageFlags = l.Summary.PackageFlags
	}
	if modeFlag != "" {
		if opts.Mode, err = parseMode(modeFlag); err != nil {
			return err
		}
	}

	res, err := e.SaveContainerWith(cmd.Context(), root, args[1], opts)
	if res != nil && res.Bag != nil && res.Bag.Len() > 0 && !s.quiet {
		diagfmt.Pretty(cmd.ErrOrStderr(), res.Bag, pretty)
	}
	if err != nil {
		return err
	}
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	if !s.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s: %d exports, %d imports, %d names, %d bytes (guid %s)\n",
			res.Package, res.Path, res.Exports, res.Imports, res.Names, res.Size, res.GUID)
	}
	return nil
}
