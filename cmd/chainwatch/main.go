// Package main is the chainwatch CLI for training the anomaly model and
// scoring transaction files outside the HTTP service.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/chainwatch/internal/config"
	"github.com/yourorg/chainwatch/internal/fetch"
	"github.com/yourorg/chainwatch/internal/orchestrator"
)

var (
	flagInput    string
	flagOutput   string
	flagModelDir string
	flagAddress  string
	flagFetch    bool
	flagTrain    bool
)

func main() {
	root := &cobra.Command{
		Use:           "chainwatch",
		Short:         "Blockchain transaction anomaly detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagModelDir, "model-dir", "", "model directory (defaults to MODEL_DIR)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setupLogging()
	}

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train a new model from a file or a live fetch",
		RunE:  runTrain,
	}
	trainCmd.Flags().StringVarP(&flagInput, "input", "i", "", "JSON file with transactions")
	trainCmd.Flags().BoolVarP(&flagFetch, "fetch", "f", false, "fetch training data from Etherscan")
	trainCmd.Flags().StringVar(&flagAddress, "address", "", "address to fetch transactions for")

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Score transactions from a JSON file",
		RunE:  runDetect,
	}
	detectCmd.Flags().StringVarP(&flagInput, "input", "i", "", "JSON file with transactions")
	detectCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write results to file instead of stdout")
	detectCmd.Flags().BoolVarP(&flagTrain, "train", "t", false, "train a new model from the input before scoring")
	_ = detectCmd.MarkFlagRequired("input")

	root.AddCommand(trainCmd, detectCmd)

	if err := root.Execute(); err != nil {
		logrus.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}

func setupLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func newOrchestrator() (*orchestrator.Orchestrator, config.Config) {
	cfg := config.Load()
	if flagModelDir != "" {
		cfg.ModelDir = flagModelDir
	}
	return orchestrator.New(cfg, fetch.NewEtherscanClient(cfg)), cfg
}

func runTrain(cmd *cobra.Command, args []string) error {
	if flagInput == "" && !flagFetch {
		return fmt.Errorf("either --input or --fetch is required")
	}

	orch, _ := newOrchestrator()
	_, err := orch.Train(cmd.Context(), orchestrator.TrainOptions{
		InputFile: flagInput,
		Address:   flagAddress,
	})
	if err != nil {
		return err
	}

	logrus.Info("Model trained and saved successfully")
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	orch, cfg := newOrchestrator()

	if flagTrain {
		logrus.Infof("Training new model with data from %s", flagInput)
		if _, err := orch.Train(cmd.Context(), orchestrator.TrainOptions{InputFile: flagInput}); err != nil {
			return err
		}
	}

	records, err := orchestrator.LoadInputFile(flagInput)
	if err != nil {
		return err
	}

	results, err := orch.Detect(cmd.Context(), records, cfg.ModelDir)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}

	if flagOutput != "" {
		if err := os.WriteFile(flagOutput, encoded, 0o644); err != nil {
			return err
		}
		logrus.Infof("Results saved to %s", flagOutput)
		return nil
	}

	fmt.Println(string(encoded))
	return nil
}
