package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fumitoshi0524/ixeoriNMT/model"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nmt",
	Short: "Build and exercise attention-based sequence-to-sequence models",
	Long: `Build an encoder-decoder translation model from a YAML config and run it
over synthetic batches.

Examples:
  # Forward a few batches concurrently through a two-encoder model
  nmt forward --config nmt.yaml --requests 8 --workers 4

  # Train for a few steps and save a checkpoint
  nmt train --steps 20 --checkpoint model.bin`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file path (e.g. nmt.yaml)")
	rootCmd.PersistentFlags().
		String("log-level", "info", "set the logging level (e.g. debug, info, warn, error)")
	rootCmd.PersistentFlags().
		String("log-style", "terminal", "set the logging output style (terminal, json, noop)")
	rootCmd.PersistentFlags().
		Int64("seed", 1, "seed for parameter initialization and synthetic batches")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
	mustBindPFlag("seed", rootCmd.PersistentFlags().Lookup("seed"))

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.style", "terminal")
	setModelDefaults(model.DefaultOptions())
	viper.SetDefault("batch.size", 4)
	viper.SetDefault("batch.src_len", 6)
	viper.SetDefault("batch.conv_len", 4)
	viper.SetDefault("batch.tgt_len", 5)
	viper.SetDefault("memory.docs", 8)
	viper.SetDefault("memory.doc_len", 5)
}

func setModelDefaults(o model.Options) {
	viper.SetDefault("model.encoder_type", o.EncoderType)
	viper.SetDefault("model.rnn_type", o.RNNType)
	viper.SetDefault("model.enc_layers", o.EncoderLayers)
	viper.SetDefault("model.dec_layers", o.DecoderLayers)
	viper.SetDefault("model.rnn_size", o.RNNSize)
	viper.SetDefault("model.word_vec_size", o.WordVecSize)
	viper.SetDefault("model.feat_vec_size", o.FeatVecSize)
	viper.SetDefault("model.src_vocab_size", o.SrcVocabSize)
	viper.SetDefault("model.tgt_vocab_size", o.TgtVocabSize)
	viper.SetDefault("model.pad_index", o.PadIndex)
	viper.SetDefault("model.global_attention", o.GlobalAttention)
	viper.SetDefault("model.input_feed", o.InputFeed)
	viper.SetDefault("model.memory_ranking", o.MemoryRanking)
	viper.SetDefault("model.memory_top_k", o.MemoryTopK)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
			os.Exit(1)
		}
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("nmt")
	}

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("NMT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}
