package vfs

import (
	"fmt"
	"os"
	"time"
)

// sixMonths is proftpd's (and this module's) threshold for switching
// the LIST date column from "HH:MM" to the year, per spec §4.5.
const sixMonths = 180 * 24 * time.Hour

var monthNames = [...]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// FormatUnixList renders one entry in "ls -l" style:
// mode nlink owner group size month day hh:mm|year name.
func FormatUnixList(e Entry, now time.Time, useGMT bool) string {
	info := e.Info
	mt := info.ModTime()
	if useGMT {
		mt = mt.UTC()
		now = now.UTC()
	}
	dateCol := fmt.Sprintf("%s %2d", monthNames[mt.Month()-1], mt.Day())
	if now.Sub(mt) > sixMonths || mt.Sub(now) > 0 {
		dateCol += fmt.Sprintf(" %5d", mt.Year())
	} else {
		dateCol += fmt.Sprintf(" %02d:%02d", mt.Hour(), mt.Minute())
	}

	nlink := 1
	if info.IsDir() {
		nlink = 2
	}
	name := e.Name
	if e.LinkTarget != "" {
		name += " -> " + e.LinkTarget
	}
	return fmt.Sprintf("%s %3d %-8s %-8s %8d %s %s",
		unixModeString(info), nlink, "ftp", "ftp", info.Size(), dateCol, name)
}

func unixModeString(info os.FileInfo) string {
	mode := info.Mode()
	var kind byte = '-'
	switch {
	case mode.IsDir():
		kind = 'd'
	case mode&os.ModeSymlink != 0:
		kind = 'l'
	}
	perm := mode.Perm()
	bits := []byte{
		kind,
		permChar(perm, 0400, 'r'), permChar(perm, 0200, 'w'), permChar(perm, 0100, 'x'),
		permChar(perm, 0040, 'r'), permChar(perm, 0020, 'w'), permChar(perm, 0010, 'x'),
		permChar(perm, 0004, 'r'), permChar(perm, 0002, 'w'), permChar(perm, 0001, 'x'),
	}
	return string(bits)
}

func permChar(perm os.FileMode, bit os.FileMode, ch byte) byte {
	if perm&bit != 0 {
		return ch
	}
	return '-'
}

// MLSFacts is the set of supported MLSD/MLST facts (spec §4.5, §4.7
// FEAT). Every fact is always emitted: OPTS MLST is acknowledged but does
// not change the set for a session.
var MLSFacts = []string{"type", "size", "modify", "perm", "unique"}

// FormatMLSEntry renders one semicolon-delimited MLSD/MLST fact line,
// followed by a space and the name.
func FormatMLSEntry(kind string, e Entry, dev, ino uint64, perm string, facts []string, useGMT bool) string {
	set := map[string]string{}
	if contains(facts, "type") {
		set["type"] = kind
	}
	if contains(facts, "size") {
		set["size"] = fmt.Sprintf("%d", e.Info.Size())
	}
	if contains(facts, "modify") {
		mt := e.Info.ModTime()
		if useGMT {
			mt = mt.UTC()
		}
		set["modify"] = mt.Format("20060102150405")
	}
	if contains(facts, "perm") {
		set["perm"] = perm
	}
	if contains(facts, "unique") {
		set["unique"] = fmt.Sprintf("%x.%x", dev, ino)
	}
	var line string
	for _, f := range facts {
		if v, ok := set[f]; ok {
			line += f + "=" + v + ";"
		}
	}
	return line + " " + e.Name
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
