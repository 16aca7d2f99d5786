package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger on top of logrus.
// Badger's info output (compactions, memtable flushes) is demoted to debug.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry.WithField("component", "badger")}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{})   { l.Entry.Errorf(trimNewline(f), v...) }
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warnf(trimNewline(f), v...) }
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{})    { l.Entry.Debugf(trimNewline(f), v...) }
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{})   { l.Entry.Tracef(trimNewline(f), v...) }

// BrowserLogAdapter routes chromedp's log callbacks into logrus.
// Pass its methods to chromedp.WithLogf, chromedp.WithErrorf and chromedp.WithDebugf.
type BrowserLogAdapter struct {
	entry *logrus.Entry
}

// NewBrowserLogAdapter creates a new adapter
func NewBrowserLogAdapter(entry *logrus.Entry) *BrowserLogAdapter {
	return &BrowserLogAdapter{entry: entry.WithField("component", "chromedp")}
}

func (b *BrowserLogAdapter) Logf(f string, v ...interface{})   { b.entry.Debugf(trimNewline(f), v...) }
func (b *BrowserLogAdapter) Errorf(f string, v ...interface{}) { b.entry.Warnf(trimNewline(f), v...) }

// Debugf carries raw CDP traffic, only visible at trace level
func (b *BrowserLogAdapter) Debugf(f string, v ...interface{}) { b.entry.Tracef(trimNewline(f), v...) }

func trimNewline(f string) string {
	return strings.TrimSuffix(f, "\n")
}
