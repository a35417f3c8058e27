package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmuoria/cv-shortlist-agent/internal/export"
	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
	"github.com/fmuoria/cv-shortlist-agent/internal/logger"
	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

var screenCmd = &cobra.Command{
	Use:   "screen [folder | archive.zip | gs://bucket/object]",
	Short: "Screen a batch of CVs against a job description",
	Long: `Screen a batch of CVs against a job description and print the report as JSON.

The source is a folder of CVs, a ZIP archive, a file or ZIP in Cloud Storage,
or the attachments of Gmail messages matching --gmail-subject.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScreen,
}

func init() {
	addScreenFlags(screenCmd)
	rootCmd.AddCommand(screenCmd)
}

func addScreenFlags(c *cobra.Command) {
	c.Flags().String("job-description", "", "job description text")
	c.Flags().String("job-file", "", "read the job description from a TXT, PDF, DOC or DOCX file")
	c.Flags().String("title", "", "job title shown in the report")
	c.Flags().String("category", "", "role category: "+categoryNames())
	c.Flags().Int("top-n", 0, "shortlist size (default from config)")
	c.Flags().Bool("ai", false, "rank the shortlist with the configured LLM")
	c.Flags().String("gmail-subject", "", "fetch CVs from Gmail messages with this subject")
	c.Flags().String("xlsx", "", "also write the report to an Excel workbook (local path or gs:// URI)")
	c.Flags().BoolP("interactive", "i", false, "choose the role category interactively")
}

func categoryNames() string {
	names := make([]string, len(models.RoleCategories))
	for i, c := range models.RoleCategories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func runScreen(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	cfg, err := getConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	subject, _ := flags.GetString("gmail-subject")
	if len(args) == 0 && subject == "" {
		return errors.New("a folder, archive or --gmail-subject is required")
	}
	if len(args) == 1 && subject != "" {
		return errors.New("--gmail-subject cannot be combined with a path")
	}

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shortlistAgent := newAgent(ctx, cfg, log)
	defer shortlistAgent.Close()

	shortlistAgent.SetProgressCallback(func(current, total int, message string) {
		log.Debug("progress", zap.Int("current", current), zap.Int("total", total), zap.String("message", message))
	})

	var report *models.ScreeningReport
	if subject != "" {
		gh, err := ingestion.NewGmailHandlerWithCallback(ctx, gmailOptions(cfg), terminalAuthCode, log)
		if err != nil {
			return fmt.Errorf("failed to initialize Gmail handler: %w", err)
		}
		report, err = shortlistAgent.ScreenGmail(ctx, gh, subject, req)
		if err != nil {
			return err
		}
	} else {
		req.Documents, req.Skipped, err = ingestion.LoadSource(ctx, args[0], archiveOptions(cfg))
		if err != nil {
			return err
		}
		report, err = shortlistAgent.Screen(ctx, req)
		if err != nil {
			return err
		}
	}

	log.Info("screening finished",
		zap.String(logger.FieldRunID, report.RunID),
		zap.Int("received", report.TotalReceived),
		zap.Int("scored", report.TotalScored),
		zap.Int("shortlisted", len(report.Shortlist)),
	)
	if report.AIError != "" {
		log.Warn("AI ranking failed, shortlist is preliminary only", zap.String("error", report.AIError))
	}

	if target, _ := flags.GetString("xlsx"); target != "" {
		written, err := export.SaveTo(ctx, *report, target)
		if err != nil {
			return err
		}
		log.Info("workbook written", zap.String("target", written))
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// requestFromFlags builds the screening request from the job flags
func requestFromFlags(cmd *cobra.Command) (models.ScreeningRequest, error) {
	flags := cmd.Flags()

	description, _ := flags.GetString("job-description")
	if jobFile, _ := flags.GetString("job-file"); jobFile != "" {
		if description != "" {
			return models.ScreeningRequest{}, errors.New("use either --job-description or --job-file")
		}
		text, err := ingestion.ExtractText(jobFile)
		if err != nil {
			return models.ScreeningRequest{}, fmt.Errorf("failed to read job file: %w", err)
		}
		description = ingestion.SanitizeText(text)
	}

	title, _ := flags.GetString("title")
	category, _ := flags.GetString("category")
	topN, _ := flags.GetInt("top-n")
	useAI, _ := flags.GetBool("ai")

	if interactive, _ := flags.GetBool("interactive"); interactive && category == "" {
		selected, err := selectCategory()
		if err != nil {
			return models.ScreeningRequest{}, err
		}
		category = selected
	}

	return models.ScreeningRequest{
		JobTitle:       strings.TrimSpace(title),
		JobDescription: strings.TrimSpace(description),
		RoleCategory:   category,
		TopN:           topN,
		UseAI:          useAI,
	}, nil
}

func selectCategory() (string, error) {
	items := make([]string, len(models.RoleCategories))
	for i, c := range models.RoleCategories {
		items[i] = string(c)
	}

	prompt := promptui.Select{
		Label: "Choose the role category and press ENTER",
		Items: items,
	}

	_, selected, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("category prompt: %w", err)
	}
	return selected, nil
}

// terminalAuthCode asks for the Gmail authorization code on the terminal
func terminalAuthCode(authURL string) (string, error) {
	fmt.Fprintf(os.Stderr, "Open the following link in your browser and authorize access:\n%s\n", authURL)

	prompt := promptui.Prompt{
		Label: "Authorization code",
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("code is required")
			}
			return nil
		},
	}
	return prompt.Run()
}
