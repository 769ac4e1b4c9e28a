package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pilacorp/go-pop-sdk/evm"
	"github.com/pilacorp/go-pop-sdk/peoplechain"
)

func newTierCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tier <ss58-address>",
		Short: "Query the People Chain personhood tier of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := peoplechain.NewQuerier(a.cfg.QuerierOptions(a.logger)...)
			res, err := q.QueryTier(cmd.Context(), args[0], a.cfg.Network())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

type credentialView struct {
	Address       string                `json:"address"`
	Credential    evm.OnChainCredential `json:"credential"`
	EffectiveTier uint8                 `json:"effectiveTier"`
	Multiplier    float64               `json:"multiplier"`
}

func newCredentialCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "credential <evm-address>",
		Short: "Read the on-chain PoP credential of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid EVM address: %s", args[0])
			}
			user := common.HexToAddress(args[0])
			client, err := evm.Dial(cmd.Context(), a.cfg.RPC, a.cfg.EVMContracts(),
				evm.WithChainID(a.cfg.ChainID), evm.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer client.Close()

			cred, err := client.GetCredential(cmd.Context(), user)
			if err != nil {
				return err
			}
			tier := cred.EffectiveTier()
			return printJSON(cmd, credentialView{
				Address:       user.Hex(),
				Credential:    cred,
				EffectiveTier: uint8(tier),
				Multiplier:    tier.Multiplier(),
			})
		},
	}
}
