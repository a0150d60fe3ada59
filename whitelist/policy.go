package whitelist

// PinnedClasses are the types that keep their host name inside the
// sandbox namespace per spec §3: primitive wrappers, Object, Throwable,
// String, Class, ClassLoader.
var PinnedClasses = []string{
	"java/lang/Object",
	"java/lang/Throwable",
	"java/lang/String",
	"java/lang/Class",
	"java/lang/ClassLoader",
	"java/lang/Boolean",
	"java/lang/Byte",
	"java/lang/Character",
	"java/lang/Short",
	"java/lang/Integer",
	"java/lang/Long",
	"java/lang/Float",
	"java/lang/Double",
	"java/lang/Void",
}

// TemplateClasses are types the deterministic runtime supplies directly
// under a "sandbox/..." name that equals their own declared name (their
// class file already lives in that namespace, e.g.
// sandbox/java/lang/Object). See SPEC_FULL.md's supplemented-features
// section: this set is grounded on original_source/djvm's one shipped
// runtime class, sandbox/java/util/MissingResourceException.
var TemplateClasses = []string{
	"sandbox/java/lang/Object",
	"sandbox/java/lang/Throwable",
	"sandbox/java/lang/String",
	"sandbox/java/util/MissingResourceException",
}

// ReservedMemberNames may not be declared by a user class (§3 invariant);
// the Rewrite Driver rejects any user class body that declares one.
var ReservedMemberNames = []string{
	"toDJVMString",
	"fromDJVM",
	"toDJVM",
}

// DefaultPolicy is the canonical policy table of spec §4.2, encoding the
// non-deterministic API catalog: ClassLoader construction and resource
// lookups, reflective Class accessors, Constructor.newInstance, and
// Object's monitor methods.
var DefaultPolicy = &Table{
	Pinned:    PinnedClasses,
	Templates: TemplateClasses,
	Rules: []Rule{
		{
			Owner: "java/lang/ClassLoader", Name: "<init>", Descriptor: "()V",
			Action: Thunk,
			Thunk:  MemberRef{Owner: "java/lang/ClassLoader", Name: "<init>", Descriptor: "(Ljava/lang/ClassLoader;)V"},
		},
		{
			Owner: "java/lang/ClassLoader", Name: "<init>", Descriptor: "(Ljava/lang/ClassLoader;)V",
			Action: Allow,
		},
		{
			// Any other ClassLoader constructor (in particular the
			// (String,ClassLoader) form) is forbidden outright.
			Owner: "java/lang/ClassLoader", Name: "<init>",
			Action:  Forbid,
			Message: "java.lang.ClassLoader(ClassLoader)",
		},
		{
			Owner: "java/lang/ClassLoader", Name: "loadClass", Descriptor: "(Ljava/lang/String;)Ljava/lang/Class;",
			Action: Thunk,
			Thunk:  MemberRef{Owner: "sandbox/java/lang/DJVM", Name: "loadClass", Descriptor: "(Ljava/lang/ClassLoader;Ljava/lang/String;)Ljava/lang/Class;"},
		},
		{
			Owner: "java/lang/ClassLoader", Name: "loadClass", Descriptor: "(Ljava/lang/String;Z)Ljava/lang/Class;",
			Action: Forbid,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "defineClass",
			Action: Forbid,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "findClass",
			Action: Forbid,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "getParent", Descriptor: "()Ljava/lang/ClassLoader;",
			Action: Stub, Stub: StubPushNull,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "getResources",
			Action: Stub, Stub: StubPushEmptyEnumeration,
		},
		{
			// Any other getResource* instance method: discard, push null.
			Owner: "java/lang/ClassLoader", Name: "getResource",
			Action: Stub, Stub: StubPushNull,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "getResourceAsStream",
			Action: Stub, Stub: StubPushNull,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "getSystemClassLoader", Descriptor: "()Ljava/lang/ClassLoader;",
			Action: Thunk,
			Thunk:  MemberRef{Owner: "sandbox/java/lang/DJVM", Name: "getSystemClassLoader", Descriptor: "()Ljava/lang/ClassLoader;"},
		},
		{
			Owner: "java/lang/ClassLoader", Name: "getSystemResources",
			Action: Stub, Stub: StubPushEmptyEnumeration,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "getSystemResource",
			Action: Stub, Stub: StubPushNull,
		},
		{
			Owner: "java/lang/ClassLoader", Name: "getSystemResourceAsStream",
			Action: Stub, Stub: StubPushNull,
		},

		{Owner: "java/lang/Class", Name: "getPackage", Action: Forbid},
		{Owner: "java/lang/Class", Name: "getProtectionDomain", Action: Forbid},
		{Owner: "java/lang/Class", Name: "getDeclaredClasses", Action: Forbid},
		{Owner: "java/lang/Class", Name: "getClasses", Action: Allow},

		{Owner: "java/lang/Class", Name: "getConstructor", Action: Allow},
		{Owner: "java/lang/Class", Name: "getConstructors", Action: Allow},
		{Owner: "java/lang/Class", Name: "getMethod", Action: Allow},
		{Owner: "java/lang/Class", Name: "getMethods", Action: Allow},
		{Owner: "java/lang/Class", Name: "getEnclosingConstructor", Action: Allow},
		{Owner: "java/lang/Class", Name: "getEnclosingMethod", Action: Allow},

		{Owner: "java/lang/reflect/Constructor", Name: "newInstance", Action: Forbid},

		{Owner: "java/lang/Object", Name: "wait", Action: Forbid},
		{Owner: "java/lang/Object", Name: "notify", Action: Forbid},
		{Owner: "java/lang/Object", Name: "notifyAll", Action: Forbid},

		{Owner: "sun/security/provider/Sun", Name: "<init>", Action: Allow},
	},
}

// InternalReflectionAllowList names the deterministic-runtime internal
// classes permitted to call Constructor.newInstance directly (per §4.2's
// "except when called from a fixed allow-list of deterministic-runtime
// internal classes"). The enforcer consults this by current-class name
// rather than by a Rule, since the Rule table is keyed on the callee, not
// the caller.
var InternalReflectionAllowList = []string{
	"sandbox/java/lang/DJVM",
	"sandbox/java/lang/DJVMNoteToSelf",
}
