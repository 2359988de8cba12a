package progress

import "strings"

// stageBinding maps a reported stage onto the pipeline graph: the rank used
// for ordering comparisons, the nodes the stage implies are finished, and the
// nodes it implies are running.
//
// Kept as data rather than control flow: adding a scan kind means adding a
// table, not new branches.
type stageBinding struct {
	stage     string
	rank      int
	completed []NodeID
	active    []NodeID
}

var cloudStages = []stageBinding{
	{
		stage:  "starting",
		rank:   1,
		active: []NodeID{NodeCloudAccount},
	},
	{
		stage:     "discovered",
		rank:      2,
		completed: []NodeID{NodeCloudAccount},
		active:    []NodeID{NodeCloudDiscovery},
	},
	{
		stage:     "routing",
		rank:      3,
		completed: []NodeID{NodeCloudAccount, NodeCloudDiscovery},
		active:    []NodeID{NodeCloudRouter},
	},
	{
		stage:     "scanning",
		rank:      4,
		completed: []NodeID{NodeCloudAccount, NodeCloudDiscovery, NodeCloudRouter},
		active:    []NodeID{NodeCloudActive, NodeCloudLog},
	},
}

var repoStages = []stageBinding{
	{
		stage:  "starting",
		rank:   1,
		active: []NodeID{NodeRepoGitHub},
	},
	{
		stage:     "cloning",
		rank:      2,
		completed: []NodeID{NodeRepoGitHub},
		active:    []NodeID{NodeRepoClone},
	},
	{
		stage:     "secrets",
		rank:      3,
		completed: []NodeID{NodeRepoGitHub, NodeRepoClone},
		active:    []NodeID{NodeRepoSecrets},
	},
	{
		stage:     "sca",
		rank:      4,
		completed: []NodeID{NodeRepoGitHub, NodeRepoClone, NodeRepoSecrets},
		active:    []NodeID{NodeRepoSCA},
	},
	{
		stage:     "sast",
		rank:      5,
		completed: []NodeID{NodeRepoGitHub, NodeRepoClone, NodeRepoSecrets, NodeRepoSCA},
		active:    []NodeID{NodeRepoSAST},
	},
	{
		stage:     "license",
		rank:      6,
		completed: []NodeID{NodeRepoGitHub, NodeRepoClone, NodeRepoSecrets, NodeRepoSCA, NodeRepoSAST},
		active:    []NodeID{NodeRepoLicense},
	},
}

func stageTable(kind ScanKind) []stageBinding {
	if kind == ScanKindRepo {
		return repoStages
	}
	return cloudStages
}

// matchesStage reports whether a server-reported stage name refers to the
// known vocabulary entry. The server may qualify stage names (e.g.
// "scanning:ec2"), so a match is the exact name or the name followed by a
// non-alphanumeric separator. The boundary check keeps "sca" from claiming
// "scanning" and "sast".
func matchesStage(stage, name string) bool {
	if !strings.HasPrefix(stage, name) {
		return false
	}
	if len(stage) == len(name) {
		return true
	}
	next := stage[len(name)]
	return !(next >= 'a' && next <= 'z' || next >= 'A' && next <= 'Z' || next >= '0' && next <= '9')
}

// bindingFor looks up the stage binding for a reported stage name. The bool
// result is false when the stage is outside the known vocabulary.
func bindingFor(kind ScanKind, stage string) (stageBinding, bool) {
	for _, b := range stageTable(kind) {
		if matchesStage(stage, b.stage) {
			return b, true
		}
	}
	return stageBinding{}, false
}

// StageRank returns the ordering rank of a reported stage name. The bool
// result is false when the stage is outside the known vocabulary.
func StageRank(kind ScanKind, stage string) (int, bool) {
	b, ok := bindingFor(kind, stage)
	return b.rank, ok
}
