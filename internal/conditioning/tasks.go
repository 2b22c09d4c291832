package conditioning

const (
	epelRepoFile    = "/etc/yum.repos.d/epel.repo"
	isRedHatFamily  = "ansible_distribution in ['RedHat', 'CentOS']"
	cloudInitReqs   = "__cloud_init_reqs"
	cloudInitDeps   = "__cloud_init_deps"
	uniqueReqsExpr  = "{{ " + cloudInitReqs + ".stdout_lines | unique }}"
	reqsWithDepExpr = "{{ " + cloudInitReqs + ".stdout_lines | unique | zip(" + cloudInitDeps + ".results) | list }}"
)

// cloudInitRemoval removes cloud-init, then every package it pulled in that
// nothing else requires. Only the first two steps may fail the play.
func cloudInitRemoval() []Task {
	return []Task{
		{
			Name:     "get cloud-init requires",
			Action:   Command{Cmd: "rpm -q --requires cloud-init"},
			Register: cloudInitReqs,
			NoLog:    true,
		},
		{
			Name:   "remove cloud-init",
			Action: Package{Name: "cloud-init", State: PackageAbsent},
			NoLog:  true,
		},
		{
			Name:         "get deps for each cloud-init req",
			Action:       Command{Cmd: "rpm -q --whatrequires {{ item | quote }}"},
			Loop:         uniqueReqsExpr,
			Register:     cloudInitDeps,
			IgnoreErrors: true,
			NoLog:        true,
		},
		{
			Name:         "remove packages that were required only by cloud-init",
			Action:       Package{Name: "{{ item.0 }}", State: PackageAbsent},
			Loop:         reqsWithDepExpr,
			When:         []string{"item.1.stdout is match('no package requires ')"},
			IgnoreErrors: true,
			NoLog:        true,
		},
	}
}

// packageCacheWarmup enables EPEL long enough to populate the package
// manager cache on EL7 and EL8 guests.
func packageCacheWarmup() []Task {
	return []Task{
		{
			Name: "Create EPEL {{ ansible_distribution_major_version }} repo",
			Action: Command{
				Cmd:     "yum install -y https://dl.fedoraproject.org/pub/epel/epel-release-latest-{{ ansible_distribution_major_version }}.noarch.rpm",
				Creates: epelRepoFile,
			},
			When:  []string{isRedHatFamily, "ansible_distribution_major_version in ['7', '8']"},
			NoLog: true,
		},
		{
			Name:   "Create yum cache",
			Action: Command{Cmd: "yum makecache"},
			When:   []string{"ansible_pkg_mgr == 'yum'"},
			NoLog:  true,
		},
		{
			Name:   "Create dnf cache",
			Action: Command{Cmd: "dnf makecache"},
			When:   []string{"ansible_pkg_mgr == 'dnf'"},
			NoLog:  true,
		},
		{
			Name:   "Disable EPEL 7",
			Action: Command{Cmd: "yum-config-manager --disable epel"},
			When:   []string{isRedHatFamily, "ansible_distribution_major_version == '7'"},
			NoLog:  true,
		},
		{
			Name:   "Disable EPEL 8",
			Action: Command{Cmd: "dnf config-manager --set-disabled epel"},
			When:   []string{isRedHatFamily, "ansible_distribution_major_version == '8'"},
			NoLog:  true,
		},
	}
}

// flushAndShutdown must be the last thing run against a snapshot so every
// change reaches the image before the guest stops.
func flushAndShutdown() []Task {
	return []Task{
		{
			Name:   "force sync of filesystems - ensure setup changes are made to snapshot",
			Action: Command{Cmd: "sync"},
			NoLog:  true,
		},
		{
			Name:   "shutdown guest",
			Action: Command{Cmd: "shutdown now"},
			Async:  &Async{Seconds: 60, Poll: 0},
			NoLog:  true,
		},
	}
}
