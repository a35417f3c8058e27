package gui

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"github.com/fmuoria/cv-shortlist-agent/internal/agent"
	"github.com/fmuoria/cv-shortlist-agent/internal/config"
	"github.com/fmuoria/cv-shortlist-agent/internal/export"
	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
	"github.com/fmuoria/cv-shortlist-agent/internal/logger"
	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

const (
	sourceFolder = "Folder"
	sourceZIP    = "ZIP file"
	sourceGmail  = "Gmail"
)

// App represents the main GUI application
type App struct {
	fyneApp    fyne.App
	mainWindow fyne.Window
	config     *config.Config
	agent      *agent.ShortlistAgent
	logger     *zap.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc

	// UI Components
	sourceRadio     *widget.RadioGroup
	pathEntry       *widget.Entry
	browseBtn       *widget.Button
	subjectEntry    *widget.Entry
	gmailStatus     *widget.Label
	authenticateBtn *widget.Button
	jobTitleEntry   *widget.Entry
	jobDescText     *widget.Entry
	categorySelect  *widget.Select
	topNEntry       *widget.Entry
	aiCheck         *widget.Check
	processBtn      *widget.Button
	cancelBtn       *widget.Button
	progressBar     *widget.ProgressBar
	progressLabel   *widget.Label
	resultsTable    *widget.Table
	exportBtn       *widget.Button

	report *models.ScreeningReport
	rows   []models.ShortlistEntry
}

// NewApp creates a new GUI application
func NewApp(cfg *config.Config, shortlistAgent *agent.ShortlistAgent, log *zap.Logger) *App {
	a := app.New()
	w := a.NewWindow("CV Shortlist Agent")
	w.Resize(fyne.NewSize(1100, 750))

	guiApp := &App{
		fyneApp:    a,
		mainWindow: w,
		config:     cfg,
		agent:      shortlistAgent,
		logger:     logger.OrNop(log),
	}

	guiApp.setupUI()

	return guiApp
}

// Run starts the GUI application
func (a *App) Run() {
	a.mainWindow.ShowAndRun()
}

// setupUI initializes all UI components
func (a *App) setupUI() {
	tabs := container.NewAppTabs(
		container.NewTabItem("Screen CVs", a.createProcessTab()),
		container.NewTabItem("Settings", a.createSettingsTab()),
	)

	a.mainWindow.SetContent(tabs)
}

// createProcessTab creates the main processing tab
func (a *App) createProcessTab() fyne.CanvasObject {
	// Source section
	a.pathEntry = widget.NewEntry()
	a.pathEntry.SetPlaceHolder("Folder or ZIP file with CVs")
	a.pathEntry.SetText(a.config.UploadsDir)
	a.browseBtn = widget.NewButton("Browse...", a.handleBrowse)

	a.subjectEntry = widget.NewEntry()
	a.subjectEntry.SetPlaceHolder("e.g., Postulación Ejecutivo Comercial")

	a.gmailStatus = widget.NewLabel("Gmail: Not Authenticated")
	a.authenticateBtn = widget.NewButton("Authenticate Gmail", a.handleAuthenticate)

	pathRow := container.NewBorder(nil, nil, nil, a.browseBtn, a.pathEntry)
	gmailRow := container.NewVBox(a.subjectEntry, container.NewHBox(a.gmailStatus, a.authenticateBtn))

	a.sourceRadio = widget.NewRadioGroup([]string{sourceFolder, sourceZIP, sourceGmail}, func(choice string) {
		if choice == sourceGmail {
			pathRow.Hide()
			gmailRow.Show()
		} else {
			gmailRow.Hide()
			pathRow.Show()
		}
	})
	a.sourceRadio.Horizontal = true
	a.sourceRadio.SetSelected(sourceFolder)

	sourceSection := container.NewVBox(
		widget.NewLabel("CV Source"),
		a.sourceRadio,
		pathRow,
		gmailRow,
	)

	// Job description section
	a.jobTitleEntry = widget.NewEntry()
	a.jobTitleEntry.SetPlaceHolder("e.g., Ejecutivo Comercial")

	a.jobDescText = widget.NewMultiLineEntry()
	a.jobDescText.SetPlaceHolder("Paste the full job description...")
	a.jobDescText.SetMinRowsVisible(6)

	categories := make([]string, len(models.RoleCategories))
	for i, c := range models.RoleCategories {
		categories[i] = string(c)
	}
	a.categorySelect = widget.NewSelect(categories, nil)
	a.categorySelect.SetSelected(string(models.RoleGeneral))

	a.topNEntry = widget.NewEntry()
	a.topNEntry.SetText(strconv.Itoa(a.config.DefaultTopN))

	a.aiCheck = widget.NewCheck("Rank shortlist with AI", nil)
	if a.agent.AIEnabled() {
		a.aiCheck.SetChecked(true)
	} else {
		a.aiCheck.Disable()
	}

	jobSection := container.NewVBox(
		widget.NewLabel("Job Description"),
		widget.NewForm(
			widget.NewFormItem("Job Title", a.jobTitleEntry),
			widget.NewFormItem("Description", a.jobDescText),
			widget.NewFormItem("Role Category", a.categorySelect),
			widget.NewFormItem("Shortlist Size", a.topNEntry),
			widget.NewFormItem("", a.aiCheck),
		),
	)

	// Progress section
	a.progressBar = widget.NewProgressBar()
	a.progressLabel = widget.NewLabel("Ready")
	a.processBtn = widget.NewButton("Start Screening", a.handleProcess)
	a.cancelBtn = widget.NewButton("Cancel", a.handleCancel)
	a.cancelBtn.Disable()

	progressSection := container.NewVBox(
		a.progressLabel,
		a.progressBar,
		container.NewHBox(a.processBtn, a.cancelBtn),
	)

	// Results section
	headers := []string{"#", "Name", "Preliminary", "AI Score", "Experience", "Skills"}
	a.resultsTable = widget.NewTable(
		func() (int, int) {
			return len(a.rows) + 1, len(headers) // +1 for header
		},
		func() fyne.CanvasObject {
			return widget.NewLabel("Template")
		},
		func(id widget.TableCellID, cell fyne.CanvasObject) {
			label := cell.(*widget.Label)
			if id.Row == 0 {
				label.SetText(headers[id.Col])
				label.TextStyle = fyne.TextStyle{Bold: true}
				return
			}
			label.TextStyle = fyne.TextStyle{}
			if id.Row-1 >= len(a.rows) {
				label.SetText("")
				return
			}
			row := a.rows[id.Row-1]
			switch id.Col {
			case 0:
				label.SetText(strconv.Itoa(id.Row))
			case 1:
				label.SetText(row.Candidate.Name)
			case 2:
				label.SetText(strconv.Itoa(row.Candidate.PreliminaryScore))
			case 3:
				if row.Ranked != nil {
					label.SetText(fmt.Sprintf("%.0f", row.Ranked.FinalScore))
				} else {
					label.SetText("-")
				}
			case 4:
				label.SetText(row.Candidate.ExperienceSummary)
			case 5:
				label.SetText(strings.Join(row.Candidate.Skills, ", "))
			}
		},
	)
	for col, width := range []float32{40, 200, 90, 80, 200, 320} {
		a.resultsTable.SetColumnWidth(col, width)
	}
	a.resultsTable.OnSelected = func(id widget.TableCellID) {
		if id.Row > 0 && id.Row-1 < len(a.rows) {
			a.showCandidate(a.rows[id.Row-1])
		}
		a.resultsTable.UnselectAll()
	}

	a.exportBtn = widget.NewButton("Export to Excel", a.handleExport)
	a.exportBtn.Disable()

	tableScroll := container.NewScroll(a.resultsTable)
	tableScroll.SetMinSize(fyne.NewSize(900, 260))

	resultsSection := container.NewVBox(
		widget.NewLabel("Shortlist (click a row for details)"),
		tableScroll,
		a.exportBtn,
	)

	return container.NewVScroll(
		container.NewVBox(
			sourceSection,
			widget.NewSeparator(),
			jobSection,
			widget.NewSeparator(),
			progressSection,
			widget.NewSeparator(),
			resultsSection,
		),
	)
}

// createSettingsTab creates the settings tab
func (a *App) createSettingsTab() fyne.CanvasObject {
	providerSelect := widget.NewSelect([]string{config.ProviderVertex, config.ProviderGemini}, nil)
	providerSelect.SetSelected(a.config.LLMProvider)

	projectEntry := widget.NewEntry()
	projectEntry.SetText(a.config.GoogleCloudProject)

	locationEntry := widget.NewEntry()
	locationEntry.SetText(a.config.GoogleCloudLocation)

	apiKeyEntry := widget.NewPasswordEntry()
	apiKeyEntry.SetText(a.config.GeminiAPIKey)

	modelEntry := widget.NewEntry()
	modelEntry.SetPlaceHolder("provider default")
	modelEntry.SetText(a.config.Model)

	googleCredsEntry := widget.NewEntry()
	googleCredsEntry.SetText(a.config.GoogleCredentialsPath)

	gmailCredsEntry := widget.NewEntry()
	gmailCredsEntry.SetText(a.config.GmailCredentialsPath)

	uploadsEntry := widget.NewEntry()
	uploadsEntry.SetText(a.config.UploadsDir)

	form := widget.NewForm(
		widget.NewFormItem("LLM Provider", providerSelect),
		widget.NewFormItem("Google Cloud Project", projectEntry),
		widget.NewFormItem("Google Cloud Location", locationEntry),
		widget.NewFormItem("Gemini API Key", apiKeyEntry),
		widget.NewFormItem("Model", modelEntry),
		widget.NewFormItem("Google Credentials", container.NewBorder(nil, nil, nil, a.browseFileButton(googleCredsEntry), googleCredsEntry)),
		widget.NewFormItem("Gmail Credentials", container.NewBorder(nil, nil, nil, a.browseFileButton(gmailCredsEntry), gmailCredsEntry)),
		widget.NewFormItem("Gmail Downloads Folder", uploadsEntry),
	)

	saveBtn := widget.NewButton("Save Settings", func() {
		a.config.LLMProvider = providerSelect.Selected
		a.config.GoogleCloudProject = projectEntry.Text
		a.config.GoogleCloudLocation = locationEntry.Text
		a.config.GeminiAPIKey = apiKeyEntry.Text
		a.config.Model = strings.TrimSpace(modelEntry.Text)
		a.config.GoogleCredentialsPath = googleCredsEntry.Text
		a.config.GmailCredentialsPath = gmailCredsEntry.Text
		a.config.UploadsDir = uploadsEntry.Text

		if err := a.config.Save(); err != nil {
			dialog.ShowError(err, a.mainWindow)
			return
		}

		a.config.ApplyToEnv()

		dialog.ShowInformation("Success", "Settings saved successfully.\nRestart the application to apply LLM changes.", a.mainWindow)
	})

	testBtn := widget.NewButton("Test Configuration", func() {
		if err := a.config.Validate(); err != nil {
			dialog.ShowError(fmt.Errorf("validation failed: %w", err), a.mainWindow)
			return
		}
		dialog.ShowInformation("Success", "Configuration is valid", a.mainWindow)
	})

	return container.NewVBox(
		form,
		container.NewHBox(saveBtn, testBtn),
	)
}

func (a *App) browseFileButton(target *widget.Entry) *widget.Button {
	return widget.NewButton("Browse...", func() {
		dialog.ShowFileOpen(func(uc fyne.URIReadCloser, err error) {
			if err == nil && uc != nil {
				target.SetText(uc.URI().Path())
				uc.Close()
			}
		}, a.mainWindow)
	})
}

// handleBrowse picks a folder or ZIP file depending on the selected source
func (a *App) handleBrowse() {
	if a.sourceRadio.Selected == sourceZIP {
		dialog.ShowFileOpen(func(uc fyne.URIReadCloser, err error) {
			if err == nil && uc != nil {
				a.pathEntry.SetText(uc.URI().Path())
				uc.Close()
			}
		}, a.mainWindow)
		return
	}

	dialog.ShowFolderOpen(func(lu fyne.ListableURI, err error) {
		if err == nil && lu != nil {
			a.pathEntry.SetText(lu.Path())
		}
	}, a.mainWindow)
}

// gmailOptions returns the Gmail paths from the config
func (a *App) gmailOptions() ingestion.GmailOptions {
	return ingestion.GmailOptions{
		CredentialsPath: a.config.GmailCredentialsPath,
		TokenPath:       a.config.GmailTokenPath,
		UploadsDir:      a.config.UploadsDir,
	}
}

// promptAuthCode opens the consent page and waits for the user to paste the code.
// It is called from a background goroutine.
func (a *App) promptAuthCode(authURL string) (string, error) {
	type result struct {
		code string
		ok   bool
	}
	done := make(chan result, 1)

	fyne.Do(func() {
		if u, err := url.Parse(authURL); err == nil {
			if err := a.fyneApp.OpenURL(u); err != nil {
				a.logger.Warn("failed to open browser", zap.Error(err))
			}
		}

		codeEntry := widget.NewEntry()
		urlEntry := widget.NewEntry()
		urlEntry.SetText(authURL)

		dialog.ShowForm("Gmail Authorization", "Submit", "Cancel",
			[]*widget.FormItem{
				widget.NewFormItem("Authorization URL", urlEntry),
				widget.NewFormItem("Code", codeEntry),
			},
			func(ok bool) {
				done <- result{code: codeEntry.Text, ok: ok}
			}, a.mainWindow)
	})

	r := <-done
	if !r.ok || strings.TrimSpace(r.code) == "" {
		return "", errors.New("authorization canceled")
	}
	return r.code, nil
}

// handleAuthenticate handles Gmail authentication
func (a *App) handleAuthenticate() {
	credsPath := a.config.GmailCredentialsPath
	if credsPath == "" {
		credsPath = "credentials.json"
	}
	if _, err := os.Stat(credsPath); os.IsNotExist(err) {
		dialog.ShowError(fmt.Errorf("%s not found. Please configure Gmail credentials in Settings", credsPath), a.mainWindow)
		return
	}

	a.authenticateBtn.Disable()

	go func() {
		_, err := ingestion.NewGmailHandlerWithCallback(context.Background(), a.gmailOptions(), a.promptAuthCode, a.logger)

		fyne.Do(func() {
			a.authenticateBtn.Enable()
			if err != nil {
				dialog.ShowError(fmt.Errorf("authentication failed: %w", err), a.mainWindow)
				return
			}
			a.gmailStatus.SetText("Gmail: Authenticated")
			dialog.ShowInformation("Success", "Gmail authenticated successfully!\nYou can now screen CVs from Gmail.", a.mainWindow)
		})
	}()
}

// buildRequest reads the job form into a screening request
func (a *App) buildRequest() (models.ScreeningRequest, error) {
	topN, err := strconv.Atoi(strings.TrimSpace(a.topNEntry.Text))
	if err != nil || topN <= 0 {
		return models.ScreeningRequest{}, fmt.Errorf("shortlist size must be a positive number")
	}

	return models.ScreeningRequest{
		JobTitle:       strings.TrimSpace(a.jobTitleEntry.Text),
		JobDescription: strings.TrimSpace(a.jobDescText.Text),
		RoleCategory:   a.categorySelect.Selected,
		TopN:           topN,
		UseAI:          a.aiCheck.Checked,
	}, nil
}

// run screens the selected source
func (a *App) run(ctx context.Context, source, path, subject string, req models.ScreeningRequest) (*models.ScreeningReport, error) {
	switch source {
	case sourceGmail:
		gh, err := ingestion.NewGmailHandlerWithCallback(ctx, a.gmailOptions(), a.promptAuthCode, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gmail handler: %w", err)
		}
		return a.agent.ScreenGmail(ctx, gh, subject, req)

	default:
		docs, skipped, err := ingestion.LoadSource(ctx, path, ingestion.ArchiveOptions{MaxEntryBytes: a.config.MaxArchiveEntryBytes})
		if err != nil {
			return nil, err
		}
		req.Documents, req.Skipped = docs, skipped
		return a.agent.Screen(ctx, req)
	}
}

// handleProcess handles the processing of CVs
func (a *App) handleProcess() {
	source := a.sourceRadio.Selected
	path := strings.TrimSpace(a.pathEntry.Text)
	subject := strings.TrimSpace(a.subjectEntry.Text)

	if source == sourceGmail && subject == "" {
		dialog.ShowError(fmt.Errorf("please enter an email subject filter"), a.mainWindow)
		return
	}
	if source != sourceGmail && path == "" {
		dialog.ShowError(fmt.Errorf("please choose a folder or ZIP file"), a.mainWindow)
		return
	}

	req, err := a.buildRequest()
	if err != nil {
		dialog.ShowError(err, a.mainWindow)
		return
	}

	a.processBtn.Disable()
	a.cancelBtn.Enable()
	a.exportBtn.Disable()
	a.progressBar.SetValue(0)

	a.ctx, a.cancelFunc = context.WithCancel(context.Background())
	ctx := a.ctx

	a.agent.SetProgressCallback(func(current, total int, message string) {
		fyne.Do(func() {
			a.progressBar.SetValue(float64(current) / float64(total))
			a.progressLabel.SetText(message)
		})
	})

	go func() {
		report, err := a.run(ctx, source, path, subject, req)

		fyne.Do(func() {
			a.processBtn.Enable()
			a.cancelBtn.Disable()

			if err != nil {
				if errors.Is(err, context.Canceled) {
					a.progressLabel.SetText("Processing canceled")
				} else {
					a.progressLabel.SetText("Error: " + err.Error())
					dialog.ShowError(err, a.mainWindow)
				}
				return
			}

			a.report = report
			a.rows = report.Entries()
			a.resultsTable.Refresh()
			a.exportBtn.Enable()

			status := fmt.Sprintf("Complete! Scored %d of %d CVs, shortlisted %d", report.TotalScored, report.TotalReceived, len(report.Shortlist))
			if report.AIError != "" {
				status += " (AI ranking unavailable: " + report.AIError + ")"
			}
			a.progressLabel.SetText(status)

			fyne.CurrentApp().SendNotification(&fyne.Notification{
				Title:   "Screening Complete",
				Content: fmt.Sprintf("Shortlisted %d candidates", len(report.Shortlist)),
			})
		})
	}()
}

// showCandidate displays the contact details and AI analysis of one candidate
func (a *App) showCandidate(row models.ShortlistEntry) {
	c := row.Candidate

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s\nEmail: %s\nPhone: %s\n", c.Filename, c.Email, c.Phone)
	fmt.Fprintf(&sb, "Experience: %s\n", c.ExperienceSummary)
	if len(c.Education) > 0 {
		fmt.Fprintf(&sb, "Education: %s\n", strings.Join(c.Education, "; "))
	}
	fmt.Fprintf(&sb, "Preliminary score: %d\n", c.PreliminaryScore)

	if r := row.Ranked; r != nil {
		fmt.Fprintf(&sb, "\nAI score: %.0f", r.FinalScore)
		if r.Recommendation != "" {
			fmt.Fprintf(&sb, " (%s)", r.Recommendation)
		}
		sb.WriteString("\n")
		for _, section := range []struct {
			title string
			items []string
		}{
			{"STAR", r.StarBullets},
			{"Strengths", r.Strengths},
			{"Gaps", r.Gaps},
		} {
			if len(section.items) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "\n%s:\n", section.title)
			for _, item := range section.items {
				fmt.Fprintf(&sb, "  • %s\n", item)
			}
		}
	}

	text := widget.NewLabel(sb.String())
	text.Wrapping = fyne.TextWrapWord
	scroll := container.NewVScroll(text)
	scroll.SetMinSize(fyne.NewSize(600, 400))

	dialog.ShowCustom(c.Name, "Close", scroll, a.mainWindow)
}

// handleCancel handles cancellation of processing
func (a *App) handleCancel() {
	if a.cancelFunc != nil {
		a.cancelFunc()
		a.progressLabel.SetText("Canceling...")
	}
}

// handleExport handles exporting results to Excel
func (a *App) handleExport() {
	if a.report == nil {
		dialog.ShowError(fmt.Errorf("no results to export"), a.mainWindow)
		return
	}
	report := *a.report

	timestamp := time.Now().Format("2006-01-02_150405")
	defaultName := fmt.Sprintf("CV_Shortlist_%s.xlsx", timestamp)

	save := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.mainWindow)
			return
		}
		if uc == nil {
			return // User canceled
		}
		outputPath := uc.URI().Path()
		uc.Close()

		written, err := export.ExportToExcel(report, outputPath)
		if err != nil {
			dialog.ShowError(fmt.Errorf("failed to export: %w", err), a.mainWindow)
			return
		}

		dialog.ShowInformation("Success", "Results exported successfully to "+filepath.Base(written), a.mainWindow)
	}, a.mainWindow)
	save.SetFileName(defaultName)
	save.Show()
}
