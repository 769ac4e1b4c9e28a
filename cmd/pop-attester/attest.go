package main

import (
	"github.com/spf13/cobra"

	"github.com/pilacorp/go-pop-sdk/attest"
)

func newAttestCmd(a *app) *cobra.Command {
	var req attest.Request
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Sign one attestation and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := a.cfg.Issuer(a.logger)
			if err != nil {
				return err
			}
			payload, err := issuer.Issue(req)
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}
	cmd.Flags().StringVar(&req.EVMAddress, "evm", "", "EVM address of the credential holder")
	cmd.Flags().StringVar(&req.PolkadotAddress, "polkadot", "", "SS58 address holding the personhood record")
	cmd.Flags().IntVar(&req.Tier, "tier", 1, "tier to attest (1-3)")
	_ = cmd.MarkFlagRequired("evm")
	_ = cmd.MarkFlagRequired("polkadot")
	return cmd
}
