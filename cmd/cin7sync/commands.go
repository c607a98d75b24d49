package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/store"
)

// parseOutput is what `parse` prints.
type parseOutput struct {
	Rows             []csvparse.ParsedRow        `json:"rows"`
	Skipped          []int                       `json:"skipped_rows"`
	Errors           []string                    `json:"errors"`
	Headers          []string                    `json:"headers"`
	DetectedColumns  map[csvparse.Field][]string `json:"detected_columns"`
	SuggestedMapping csvparse.Mapping            `json:"suggested_mapping"`
}

func (a *app) parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse an order file and print rows and detected columns as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.readFile(args[0])
			if err != nil {
				return err
			}
			detected := csvparse.DetectColumns(res.Rows)
			return printJSON(cmd.OutOrStdout(), parseOutput{
				Rows:             res.Rows,
				Skipped:          res.Skipped,
				Errors:           res.Errors,
				Headers:          res.Headers,
				DetectedColumns:  detected,
				SuggestedMapping: csvparse.SuggestMapping(detected),
			})
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	var mappingFile string
	var preload bool

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate orders against the live Cin7 catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.readFile(args[0])
			if err != nil {
				return err
			}
			m, err := a.mapping(mappingFile, res.Rows)
			if err != nil {
				return err
			}

			st, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			batch, err := a.service(st).Validate(cmd.Context(), jobs.ValidateRequest{
				Rows:    res.Rows,
				Mapping: m,
				Preload: preload,
			})
			if err != nil {
				return err
			}

			a.logger.Info("validation finished",
				"orders", batch.Summary.Orders,
				"valid", batch.Summary.ValidOrders,
				"invalid", batch.Summary.InvalidOrders,
			)
			return printJSON(cmd.OutOrStdout(), batch)
		},
	}

	cmd.Flags().StringVar(&mappingFile, "mapping", "", "YAML column mapping (field: column); detected when omitted")
	cmd.Flags().BoolVar(&preload, "preload", false, "fetch the full customer and product catalog before validating")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	var mappingFile string

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Create a Sale and Sale Order in Cin7 for every order in the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.readFile(args[0])
			if err != nil {
				return err
			}
			m, err := a.mapping(mappingFile, res.Rows)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := a.service(st)
			p, err := svc.Start(ctx, jobs.Request{
				Filename: filepath.Base(args[0]),
				Rows:     res.Rows,
				Mapping:  m,
			})
			if err != nil {
				return err
			}

			updates, err := svc.Subscribe(p.JobID)
			if err != nil {
				return err
			}
			last := -1
		watch:
			for {
				select {
				case u, ok := <-updates:
					if !ok {
						break watch
					}
					if u.Processed != last {
						a.logger.Info("progress",
							"phase", u.Phase,
							"processed", u.Processed,
							"total", u.TotalOrders,
							"successful", u.Successful,
							"failed", u.Failed,
							"invalid", u.Invalid,
						)
						last = u.Processed
					}
				case <-ctx.Done():
					break watch
				}
			}

			final, err := svc.Wait(ctx, p.JobID)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), final); err != nil {
				return err
			}

			switch {
			case final.Phase == jobs.PhaseFailed:
				return errors.New(final.Error)
			case final.Failed > 0 || final.Invalid > 0:
				return fmt.Errorf("%d of %d orders failed, %d rejected by validation (upload %s)",
					final.Failed, final.TotalOrders, final.Invalid, final.UploadID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mappingFile, "mapping", "", "YAML column mapping (field: column); detected when omitted")
	return cmd
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check Cin7 connectivity and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.service(store.NewMemory()).Ping(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("cin7 ping failed (status %d): %s", resp.Status, resp.Message)
			}
			return nil
		},
	}
}
