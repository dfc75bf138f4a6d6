package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"flowgen/internal/credentials"
	"flowgen/internal/driver"
)

const promptTextarea = "#PINHOLE_TEXT_AREA_ELEMENT_ID"

// The generation UI ships obfuscated class names that change between deploys;
// each exact selector has a structural or text fallback next to it.
const (
	authIndicatorJS = `(() => {
	const selectors = ['img[alt*="profile"]', '[data-ogsr-up]', '.gb_d', '[aria-label*="Account"]', '.gb_D'];
	return selectors.some(sel => document.querySelector(sel) !== null);
})()`

	newProjectJS = `(() => {
	const exact = document.querySelector('button.sc-7d2e2cf5-1.hoBDwb.sc-e877996-0.eCyFgY');
	if (exact && !exact.disabled) { exact.scrollIntoView({block: 'center'}); exact.click(); return true; }
	const byText = Array.from(document.querySelectorAll('button'))
		.find(b => (b.textContent || '').trim().toLowerCase().includes('new project'));
	if (byText && !byText.disabled) { byText.scrollIntoView({block: 'center'}); byText.click(); return true; }
	return false;
})()`

	submitButtonJS = `(() => {
	const btn = document.querySelector('button.sc-7d2e2cf5-1.hwJkVV.sc-408537d4-2.gdXWm');
	if (btn && !btn.disabled) { btn.scrollIntoView({block: 'center'}); btn.click(); return true; }
	return false;
})()`

	progressTextsJS = `(() => {
	const selectors = ['.sc-dd6abb21-1.iEQNVH', '[class*="progress"]', '[class*="percentage"]'];
	const out = [];
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			const text = (el.textContent || '').trim();
			if (text.includes('%')) out.push(text);
		}
	}
	return out;
})()`

	videoSrcsJS = `Array.from(document.querySelectorAll('video[src*="storage.googleapis.com"]'))
	.map(v => v.currentSrc || v.src || '')
	.filter(src => src !== '')`
)

var percentRe = regexp.MustCompile(`(\d{1,3})\s*%`)

// Authenticate injects the cookie bundle, walks the site entry path, and
// verifies a signed-in account indicator shows up on the workspace.
func (s *Session) Authenticate(ctx context.Context, bundle credentials.Bundle) error {
	if len(bundle) == 0 {
		return errors.New("empty cookie bundle")
	}

	if err := s.run(ctx, s.cfg.NavTimeout, setCookies(bundle)); err != nil {
		return fmt.Errorf("inject cookies: %w", err)
	}
	if err := s.run(ctx, s.cfg.NavTimeout,
		chromedp.Navigate(s.cfg.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.BaseURL, err)
	}
	if err := s.run(ctx, s.cfg.NavTimeout,
		chromedp.Navigate(s.cfg.WorkspaceURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}

	var authenticated bool
	if err := s.run(ctx, s.cfg.NavTimeout,
		// Give redirects and the account chrome a moment to settle.
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(authIndicatorJS, &authenticated),
	); err != nil {
		return fmt.Errorf("check signed-in state: %w", err)
	}
	if !authenticated {
		return errors.New("no signed-in account detected; session cookies may be expired")
	}
	return nil
}

// SubmitPrompt opens a fresh project, types the prompt, and triggers
// generation. Enter is tried first; the explicit submit button is the
// fallback, retried a configured number of times.
func (s *Session) SubmitPrompt(ctx context.Context, prompt string) error {
	var opened bool
	if err := s.run(ctx, s.cfg.NavTimeout,
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(newProjectJS, &opened),
	); err != nil {
		return fmt.Errorf("open new project: %w", err)
	}
	if !opened {
		return errors.New("new project button not found")
	}

	if err := s.run(ctx, s.cfg.NavTimeout,
		chromedp.WaitVisible(promptTextarea, chromedp.ByQuery),
		chromedp.Click(promptTextarea, chromedp.ByQuery),
		chromedp.SetValue(promptTextarea, "", chromedp.ByQuery),
		chromedp.SendKeys(promptTextarea, prompt, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	); err != nil {
		return fmt.Errorf("enter prompt: %w", err)
	}

	if err := s.run(ctx, s.cfg.NavTimeout,
		chromedp.Click(promptTextarea, chromedp.ByQuery),
		chromedp.SendKeys(promptTextarea, kb.Enter, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	); err != nil {
		s.logger.Debug().Err(err).Msg("browser: enter-key submit failed, trying button")
		if berr := s.clickSubmitButton(ctx); berr != nil {
			return fmt.Errorf("submit prompt: %w", berr)
		}
	}
	return nil
}

func (s *Session) clickSubmitButton(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			if err := s.run(ctx, 5*time.Second, chromedp.Sleep(3*time.Second)); err != nil {
				return err
			}
		}
		var clicked bool
		if err := s.run(ctx, 15*time.Second, chromedp.Evaluate(submitButtonJS, &clicked)); err != nil {
			lastErr = err
			continue
		}
		if clicked {
			return nil
		}
		lastErr = errors.New("submit button not found or disabled")
	}
	return lastErr
}

// Observe reads the page once: an on-screen percent counter wins, otherwise
// two or more rendered videos count as done.
func (s *Session) Observe(ctx context.Context) (driver.Observation, error) {
	var texts []string
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(progressTextsJS, &texts)); err != nil {
		return driver.Observation{}, fmt.Errorf("read progress: %w", err)
	}
	if pct, ok := firstPercent(texts); ok {
		return driver.Observation{Ready: pct >= 100, Percent: fmt.Sprintf("%d%%", pct)}, nil
	}

	var srcs []string
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(videoSrcsJS, &srcs)); err != nil {
		return driver.Observation{}, fmt.Errorf("count videos: %w", err)
	}
	return driver.Observation{Ready: len(srcs) >= 2}, nil
}

// Outputs collects the source URLs of every generated video on the page.
func (s *Session) Outputs(ctx context.Context) ([]driver.Output, error) {
	var srcs []string
	if err := s.run(ctx, 15*time.Second,
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(videoSrcsJS, &srcs),
	); err != nil {
		return nil, fmt.Errorf("collect video urls: %w", err)
	}

	outs := make([]driver.Output, 0, len(srcs))
	for _, src := range srcs {
		outs = append(outs, driver.Output{URL: src})
	}
	return outs, nil
}

// firstPercent extracts the first integer percentage from the scraped texts.
func firstPercent(texts []string) (int, bool) {
	for _, t := range texts {
		m := percentRe.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct > 100 {
			continue
		}
		return pct, true
	}
	return 0, false
}

func setCookies(bundle credentials.Bundle) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range bundle {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.SameSite != "" {
				param = param.WithSameSite(network.CookieSameSite(c.SameSite))
			}
			if c.Expires > 0 {
				epoch := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				param = param.WithExpires(&epoch)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}
